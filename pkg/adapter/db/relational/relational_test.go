// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relational_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/momeni/storemig/internal/test/dbcontainer"
	"github.com/momeni/storemig/internal/test/schema"
	"github.com/momeni/storemig/pkg/adapter/db/relational"
	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/model"
	"github.com/momeni/storemig/pkg/core/repo"
	"github.com/momeni/storemig/pkg/core/usecase/migrationuc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T, path string, opts ...relational.Option) *relational.Backend {
	t.Helper()
	b, err := relational.Open(
		context.Background(), relational.SQLite, path, opts...,
	)
	require.NoError(t, err, "opening sqlite database %q", path)
	t.Cleanup(func() {
		assert.NoError(t, b.Close(), "closing sqlite database")
	})
	return b
}

func TestSQLiteConformance(t *testing.T) {
	schema.Conformance(t, func(t *testing.T) repo.Backend {
		return openSQLite(t, filepath.Join(t.TempDir(), "db.sqlite"))
	})
}

func TestPostgresConformance(t *testing.T) {
	ctx := context.Background()
	c := dbcontainer.Start(ctx, t, 60*time.Second)
	schema.Conformance(t, func(t *testing.T) repo.Backend {
		return c.OpenSchema(ctx, t)
	})
}

func TestSQLiteStoresAreTablesWithTypedColumns(t *testing.T) {
	ctx := context.Background()
	b := openSQLite(t, filepath.Join(t.TempDir(), "db.sqlite"))
	v1 := model.MustNewSchema(1, nil)
	v2 := v1.MustMigrate(2, nil, model.ObjectStores{
		"events": {
			"id":      model.PrimaryKeyColumn(model.AutoIncrementing()),
			"at":      model.IndexColumn(model.WithType(model.Integer)),
			"payload": model.PlainColumn(model.WithType(model.JSON)),
		},
	})
	uc, err := migrationuc.New(b, v2)
	require.NoError(t, err)
	_, err = uc.Apply(ctx)
	require.NoError(t, err)

	db := b.GORM(ctx)
	require.NoError(t, db.Exec(
		`INSERT INTO events (at, payload) VALUES (?, ?), (?, ?)`,
		10, `{"a":1}`, 20, `{"b":2}`,
	).Error)
	var ids []int64
	require.NoError(t, db.Raw(`SELECT id FROM events ORDER BY id`).Scan(&ids).Error)
	assert.Equal(t, []int64{1, 2}, ids, "id must be auto-incremented")
	assert.True(t, db.Migrator().HasIndex("events", "events_at_idx"))
	assert.True(t, db.Migrator().HasTable("_config"))
}

func TestSQLiteDroppedIndexTakesItsColumn(t *testing.T) {
	ctx := context.Background()
	b := openSQLite(t, filepath.Join(t.TempDir(), "db.sqlite"))
	_, v2, _ := schema.UsersChain()
	v3 := v2.MustMigrate(3, nil, model.ObjectStores{
		"users": {"email": model.IndexColumn(model.Unique())},
	})
	v4 := v3.MustMigrate(4, model.Removals{"users": {"email"}}, nil)
	uc, err := migrationuc.New(b, v3)
	require.NoError(t, err)
	_, err = uc.Apply(ctx)
	require.NoError(t, err)
	db := b.GORM(ctx)
	require.True(t, db.Migrator().HasIndex("users", "users_email_idx"))

	uc, err = migrationuc.New(b, v4)
	require.NoError(t, err)
	_, err = uc.Apply(ctx)
	require.NoError(t, err)
	assert.False(t, db.Migrator().HasIndex("users", "users_email_idx"))
	assert.False(t, db.Migrator().HasColumn("users", "email"))
	assert.True(t, db.Migrator().HasColumn("users", "password"))
	schema.NewVerifier(b).VerifySchema(ctx, t, v4)
}

func TestSQLiteMultiEntryIndexIsRejected(t *testing.T) {
	ctx := context.Background()
	b := openSQLite(t, filepath.Join(t.TempDir(), "db.sqlite"))
	_, v2, _ := schema.UsersChain()
	v3 := v2.MustMigrate(3, nil, model.ObjectStores{
		"users": {"tags": model.IndexColumn(model.MultiEntry())},
	})
	uc, err := migrationuc.New(b, v3)
	require.NoError(t, err)
	_, err = uc.Apply(ctx)
	require.ErrorIs(t, err, cerr.ErrSchemaContract)
	v := schema.NewVerifier(b)
	assert.Zero(t, v.Version(ctx, t))
	v.VerifyAbsent(ctx, t, "users")
}

func TestSQLiteConcurrentScopeIsReported(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db.sqlite")
	b1 := openSQLite(t, path)
	b2 := openSQLite(t, path, relational.WithLockTimeout(50*time.Millisecond))

	err := b1.VersionScope(ctx, func(ctx context.Context, s repo.Scope) error {
		if err := s.WriteVersion(ctx, 1); err != nil {
			return err
		}
		return b2.VersionScope(ctx, func(context.Context, repo.Scope) error {
			t.Error("second scope must not be acquired")
			return nil
		})
	})
	assert.ErrorIs(t, err, cerr.ErrConcurrentAccess)
	assert.Zero(t, schema.NewVerifier(b1).Version(ctx, t),
		"failed scope must be rolled back",
	)
}

func TestSQLiteConfigTableIsReserved(t *testing.T) {
	ctx := context.Background()
	b := openSQLite(t, filepath.Join(t.TempDir(), "db.sqlite"))
	key := repo.Key{Column: "id", KeyPath: []string{"id"}}
	assert.ErrorIs(t, b.CheckKey("_config", key), cerr.ErrSchemaContract)
	assert.NoError(t, b.CheckKey("config", key))

	err := b.VersionScope(ctx, func(ctx context.Context, s repo.Scope) error {
		return s.CreateStore(ctx, "_config", key)
	})
	require.ErrorIs(t, err, cerr.ErrSchemaContract)
	assert.Zero(t, schema.NewVerifier(b).Version(ctx, t),
		"version marker must survive",
	)

	v1 := model.MustNewSchema(1, model.ObjectStores{
		"_config": {"id": model.PrimaryKeyColumn()},
	})
	uc, err := migrationuc.New(b, v1)
	require.NoError(t, err)
	_, err = uc.Apply(ctx)
	require.ErrorIs(t, err, cerr.ErrSchemaContract)
	assert.Zero(t, schema.NewVerifier(b).Version(ctx, t))
}

func TestSQLitePanicRollsBack(t *testing.T) {
	ctx := context.Background()
	b := openSQLite(t, filepath.Join(t.TempDir(), "db.sqlite"))
	err := b.VersionScope(ctx, func(ctx context.Context, s repo.Scope) error {
		require.NoError(t, s.CreateStore(ctx, "users", repo.Key{
			Column: "name", KeyPath: []string{"name"},
		}))
		panic("boom")
	})
	assert.ErrorContains(t, err, "panicked: boom")
	schema.NewVerifier(b).VerifyAbsent(ctx, t, "users")
}

func TestParseDialect(t *testing.T) {
	for name, want := range map[string]relational.Dialect{
		"postgres": relational.Postgres, "PostgreSQL": relational.Postgres,
		"sqlite": relational.SQLite, "sqlite3": relational.SQLite,
	} {
		d, err := relational.ParseDialect(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, d, name)
	}
	_, err := relational.ParseDialect("mysql")
	assert.Error(t, err)
	assert.Equal(t, "sqlite", relational.SQLite.String())
}
