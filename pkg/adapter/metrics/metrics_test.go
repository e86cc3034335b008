// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package metrics_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momeni/storemig/internal/test/capmock"
	"github.com/momeni/storemig/internal/test/schema"
	"github.com/momeni/storemig/pkg/adapter/metrics"
	"github.com/momeni/storemig/pkg/core/usecase/migrationuc"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCountsOperations(t *testing.T) {
	c := metrics.New("storemig")
	c.Observe(migrationuc.Event{
		Backend: "bolt", Action: migrationuc.ActionCreateStore,
		Duration: 2 * time.Millisecond,
	})
	c.Observe(migrationuc.Event{
		Backend: "bolt", Action: migrationuc.ActionCreateStore,
		Err: errors.New("boom"),
	})
	c.Observe(migrationuc.Event{
		Backend: "bolt", Action: migrationuc.ActionApplyMigration,
	})
	assert.Zero(t, testutil.ToFloat64(
		c.MigrationsApplied.WithLabelValues("bolt"),
	), "migrations count only when their scope commits")
	c.Observe(migrationuc.Event{
		Backend: "bolt", Action: migrationuc.ActionCommit, Applied: 1,
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.Operations.WithLabelValues("bolt", "create-store", "ok"),
	))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.Operations.WithLabelValues("bolt", "create-store", "error"),
	))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.MigrationsApplied.WithLabelValues("bolt"),
	))
	assert.Equal(t, 3, testutil.CollectAndCount(c.OperationDuration))
}

func TestAbortedRunsApplyNoMigrations(t *testing.T) {
	ctx := context.Background()
	b := capmock.New()
	b.SetVersion(1)
	b.FailOn("write-version", nil)
	c := metrics.New("storemig")
	_, _, head := schema.UsersChain()
	uc, err := migrationuc.New(b, head, migrationuc.WithObserver(c))
	require.NoError(t, err)
	_, err = uc.Apply(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, b.Version())
	assert.Zero(t, testutil.ToFloat64(
		c.MigrationsApplied.WithLabelValues("capmock"),
	))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.Operations.WithLabelValues("capmock", "commit", "error"),
	))
}

func TestCollectorObservesMigrationRuns(t *testing.T) {
	ctx := context.Background()
	b := capmock.New()
	c := metrics.New("storemig")
	_, _, head := schema.UsersChain()
	uc, err := migrationuc.New(b, head,
		migrationuc.WithObserver(c),
	)
	require.NoError(t, err)
	p, err := uc.Apply(ctx)
	require.NoError(t, err)
	c.SetVersion(b.Kind(), p.Target)

	assert.Equal(t, float64(len(p.Migrations)), testutil.ToFloat64(
		c.MigrationsApplied.WithLabelValues("capmock"),
	))
	assert.Equal(t, 3.0, testutil.ToFloat64(
		c.LastVersion.WithLabelValues("capmock"),
	))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.Operations.WithLabelValues("capmock", "create-store", "ok"),
	))

	path := filepath.Join(t.TempDir(), "storemig.prom")
	require.NoError(t, c.WriteToTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "storemig_migrations_applied_total")
	assert.Contains(t, string(data), `storemig_version{backend="capmock"} 3`)
}
