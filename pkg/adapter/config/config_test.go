// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momeni/storemig/pkg/adapter/config"
	"github.com/momeni/storemig/pkg/adapter/config/settings"
	"github.com/momeni/storemig/pkg/core/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFillsDefaults(t *testing.T) {
	c, err := config.Parse([]byte(`
backend:
  kind: bolt
  path: /var/lib/app/app.db
chain: chain.yaml
`))
	require.NoError(t, err)
	assert.Equal(t, "bolt", c.Backend.Kind)
	require.NotNil(t, c.Backend.LockTimeout)
	assert.Equal(t, repo.LockTimeout, c.Backend.LockTimeout.Std())
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "text", c.Log.Format)
	assert.Equal(t, "storemig", c.Metrics.Namespace)
}

func TestParseRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{
			name: "unknown backend",
			doc:  "backend: {kind: redis}\nchain: c.yaml\n",
			msg:  "Config.Backend.Kind (oneof)",
		},
		{
			name: "postgres without dsn",
			doc:  "backend: {kind: postgres}\nchain: c.yaml\n",
			msg:  "Config.Backend.DSN (required_if)",
		},
		{
			name: "sqlite without dsn",
			doc:  "backend: {kind: sqlite}\nchain: c.yaml\n",
			msg:  "Config.Backend.DSN (required_if)",
		},
		{
			name: "mongo without database",
			doc:  "backend: {kind: mongo, uri: 'mongodb://localhost'}\nchain: c.yaml\n",
			msg:  "Config.Backend.Database (required_if)",
		},
		{
			name: "missing chain",
			doc:  "backend: {kind: bolt, path: a.db}\n",
			msg:  "Config.Chain (required)",
		},
		{
			name: "bad log level",
			doc:  "backend: {kind: bolt, path: a.db}\nchain: c.yaml\nlog: {level: trace}\n",
			msg:  "Config.Log.Level (oneof)",
		},
		{
			name: "unknown field",
			doc:  "backend: {kind: bolt, path: a.db}\nchain: c.yaml\nport: 80\n",
			msg:  "field port not found",
		},
		{
			name: "lock timeout too long",
			doc:  "backend: {kind: bolt, path: a.db, lock-timeout: 1h}\nchain: c.yaml\n",
			msg:  "value is greater than max",
		},
		{
			name: "empty document",
			doc:  "",
			msg:  "found 0 children nodes",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestVerifyRangeClampsLockTimeout(t *testing.T) {
	c := &config.Config{
		Backend: config.Backend{Kind: "bolt", Path: "a.db"},
		Chain:   "c.yaml",
	}
	d := settings.Duration(time.Millisecond)
	c.Backend.LockTimeout = &d
	require.Error(t, c.ValidateAndNormalize())
	assert.Equal(t, config.MinLockTimeout, *c.Backend.LockTimeout)
}

const chainDoc = `
root:
  version: 1
  stores:
    users:
      name: {kind: primary-key}
migrations:
  - version: 2
    added:
      users:
        email: {kind: index, unique: true}
`

func writeFiles(t *testing.T, cfg string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "storemig.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "chain.yaml"), []byte(chainDoc), 0o600,
	))
	return path
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []string{
		"backend: {kind: bolt, path: data.db}\nchain: chain.yaml\n",
		"backend: {kind: sqlite, dsn: data.sqlite}\nchain: chain.yaml\n",
	} {
		path := writeFiles(t, cfg)
		c, err := config.Load(path)
		require.NoError(t, err)

		head, err := c.LoadChain()
		require.NoError(t, err)
		assert.Equal(t, 2, head.Version)

		b, err := c.OpenBackend(ctx)
		require.NoError(t, err)
		assert.Equal(t, c.Backend.Kind, b.Kind())
		require.NoError(t, b.Close())

		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		assert.Len(t, entries, 3, "database file is created beside the config")

		uc, err := c.NewMigrationUseCase(b, head, c.NewMetrics(), "run-1")
		require.NoError(t, err)
		assert.Same(t, head, uc.History().Head())
	}
}

func TestLoadFailsForMissingFiles(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeFiles(t, "backend: {kind: bolt, path: a.db}\nchain: other.yaml\n")
	c, err := config.Load(path)
	require.NoError(t, err)
	_, err = c.LoadChain()
	assert.Error(t, err)
}

func TestSetupLoggerAndMetrics(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	path := writeFiles(t, `
backend: {kind: bolt, path: a.db}
chain: chain.yaml
log: {level: warn, format: json}
metrics: {namespace: app, textfile: app.prom}
`)
	c, err := config.Load(path)
	require.NoError(t, err)
	buf := &bytes.Buffer{}
	require.NoError(t, c.SetupLogger(buf))
	slog.Info("hidden")
	slog.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	m := c.NewMetrics()
	m.SetVersion("bolt", 2)
	require.NoError(t, c.WriteMetrics(m))
	data, err := os.ReadFile(filepath.Join(filepath.Dir(path), "app.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `app_version{backend="bolt"} 2`)
}
