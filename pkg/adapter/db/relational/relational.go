// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package relational provides a repo.Backend for the relational DBMS
// servers (PostgreSQL and SQLite) using the GORM framework. Object
// stores are reified as tables, indexes as the columns which are backed
// by a "<store>_<column>_idx" index, and the version marker as a row of
// the _config table, so no store may be named _config. Each
// version-scope is a database transaction, so all DDL statements of a
// migration run are committed or rolled back together.
//
// An index column is a real table column. Hence, DropIndex drops the
// "<store>_<column>_idx" index and then its column with all of its
// values, just like DropColumn does for a plain column.
package relational

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/momeni/storemig/pkg/core/repo"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Backend is a relational repo.Backend which wraps a *gorm.DB pool.
type Backend struct {
	db          *gorm.DB
	dialect     Dialect
	lockTimeout time.Duration
}

// Option is a functional option for the Open function.
type Option func(b *Backend) error

// WithLockTimeout sets the amount of time which VersionScope waits
// for acquiring the exclusive version-scope lock. It defaults to the
// repo.LockTimeout value.
func WithLockTimeout(d time.Duration) Option {
	return func(b *Backend) error {
		if d <= 0 {
			return fmt.Errorf("lock timeout (%v) is not positive", d)
		}
		b.lockTimeout = d
		return nil
	}
}

// Open connects to the dsn database using the d dialect and checks the
// connection by pinging it.
// For PostgreSQL, dsn is a connection URL or keyword/value string as
// accepted by pgx. For SQLite, dsn is a file path (or a "file:" URI).
func Open(
	ctx context.Context, d Dialect, dsn string, opts ...Option,
) (*Backend, error) {
	b := &Backend{dialect: d, lockTimeout: repo.LockTimeout}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}
	dialector, err := d.dialector(dsn, b.lockTimeout)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(
			slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
			logger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				// Set to false in order to log with replaced vars
				ParameterizedQueries: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("gorm.Open: %w", err)
	}
	b.db = gdb
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}
	if err = sqlDB.PingContext(ctx); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("testing connection: %w", classify(err))
	}
	return b, nil
}

// Kind returns the dialect name, "postgres" or "sqlite".
func (b *Backend) Kind() string {
	return b.dialect.String()
}

// GORM returns the underlying *gorm.DB instance, configuring it to
// operate on the given ctx context (in a gorm.Session).
func (b *Backend) GORM(ctx context.Context) *gorm.DB {
	return b.db.WithContext(ctx)
}

// Close closes the connections pool.
func (b *Backend) Close() error {
	db, err := b.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
