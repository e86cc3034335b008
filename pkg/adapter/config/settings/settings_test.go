// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package settings_test

import (
	"testing"
	"time"

	"github.com/momeni/storemig/pkg/adapter/config/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationText(t *testing.T) {
	for s, want := range map[string]string{
		"5s":     "5s",
		"90s":    "1m30s",
		"2m":     "2m",
		"1h":     "1h",
		"1h0m1s": "1h0m1s",
		"0s":     "0s",
	} {
		var d settings.Duration
		require.NoError(t, d.UnmarshalText([]byte(s)), s)
		b, err := d.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, want, string(b), s)
	}
	var d settings.Duration
	assert.Error(t, d.UnmarshalText([]byte("5 parsecs")))
	assert.Equal(t, 3*time.Second, settings.Duration(3*time.Second).Std())
}

func TestDefaultAndValue(t *testing.T) {
	var p *int
	assert.Zero(t, settings.Value(p))
	settings.Default(&p, 7)
	require.NotNil(t, p)
	assert.Equal(t, 7, *p)
	settings.Default(&p, 8)
	assert.Equal(t, 7, settings.Value(p))
}

func TestVerifyRange(t *testing.T) {
	minb, maxb := 10, 20
	v := 25
	p := &v
	err := settings.VerifyRange(&p, &minb, &maxb)
	require.NotNil(t, err)
	assert.False(t, err.LessThanMin)
	assert.Equal(t, 20, *p, "value must be clamped")
	assert.Equal(t, 25, *err.Value)

	p = nil
	assert.Nil(t, settings.VerifyRange(&p, &minb, &maxb))
	assert.True(t, settings.VerifyRange(&p, &maxb, &minb).InvalidRange)
}
