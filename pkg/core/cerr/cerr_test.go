// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package cerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesItsKindSentinel(t *testing.T) {
	err := fmt.Errorf("applying: %w", cerr.StructuralInconsistencyf(
		"store does not exist",
	).At(cerr.Op{
		Migration: "2->3", Action: "drop-index",
		Store: "users", Column: "email",
	}))
	assert.ErrorIs(t, err, cerr.ErrStructuralInconsistency)
	assert.NotErrorIs(t, err, cerr.ErrBackendOperation)
	assert.Equal(t,
		"applying: [structural-inconsistency] drop-index users.email "+
			"(migration 2->3): store does not exist",
		err.Error(),
	)
	k, ok := cerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, cerr.StructuralInconsistency, k)
}

func TestWrapKeepsKindAndClassifiesForeignErrors(t *testing.T) {
	op := cerr.Op{Action: "create-store", Store: "users"}
	cause := errors.New("relation already exists")
	err := cerr.Wrap(cause, op)
	assert.ErrorIs(t, err, cerr.ErrBackendOperation)
	assert.ErrorIs(t, err, cause)

	ca := cerr.ConcurrentAccessError(errors.New("timeout"))
	err = cerr.Wrap(fmt.Errorf("opening: %w", ca), op)
	assert.ErrorIs(t, err, cerr.ErrConcurrentAccess)
	assert.ErrorIs(t, err, ca)
	var ce *cerr.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, op, ce.Op)
	assert.True(t, ca.Op.IsZero(), "wrapped error must not be modified")

	assert.NoError(t, cerr.Wrap(nil, op))
	_, ok := cerr.KindOf(cause)
	assert.False(t, ok)
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "", cerr.Op{}.String())
	assert.Equal(t, "(migration 1->2)", cerr.Op{Migration: "1->2"}.String())
	assert.Equal(t, "add users", cerr.Op{Action: "add", Store: "users"}.String())
	assert.Equal(t, "kind(99)", cerr.Kind(99).String())
}

func TestWrapLeavesSentinelsIntact(t *testing.T) {
	err := cerr.Wrap(cerr.ErrConcurrentAccess, cerr.Op{Action: "read-version"})
	assert.ErrorIs(t, err, cerr.ErrConcurrentAccess)
	assert.True(t, cerr.ErrConcurrentAccess.Op.IsZero())
	assert.Equal(t, "[concurrent-access] read-version", err.Error())

	later := cerr.ConcurrentAccessError(errors.New("lock held"))
	assert.ErrorIs(t, later, cerr.ErrConcurrentAccess)
	assert.ErrorIs(t, cerr.Wrap(later, cerr.Op{Action: "write-version"}),
		cerr.ErrConcurrentAccess,
	)
}

func TestWrapKeepsExistingCoordinates(t *testing.T) {
	inner := cerr.StructuralInconsistencyf("gone").At(cerr.Op{Store: "a"})
	err := cerr.Wrap(inner, cerr.Op{Store: "b"})
	assert.Same(t, inner, err)
}
