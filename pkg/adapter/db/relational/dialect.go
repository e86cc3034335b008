// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relational

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/model"
	"github.com/spaolacci/murmur3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect identifies a supported relational DBMS.
type Dialect uint8

// These constants list the supported dialects.
const (
	Postgres Dialect = iota + 1
	SQLite
)

// String returns "postgres" or "sqlite".
func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return fmt.Sprintf("dialect(%d)", uint8(d))
	}
}

// ParseDialect parses a dialect name. The "postgresql" and "sqlite3"
// aliases are accepted too.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return 0, fmt.Errorf("unsupported relational dialect: %q", name)
	}
}

// lockKey is the key of the transaction-level advisory lock which
// serializes the PostgreSQL version-scopes.
var lockKey = int64(murmur3.Sum64([]byte("storemig/" + configTable)))

func (d Dialect) dialector(
	dsn string, lockTimeout time.Duration,
) (gorm.Dialector, error) {
	switch d {
	case Postgres:
		return postgres.Open(dsn), nil
	case SQLite:
		return sqlite.Open(sqliteDSN(dsn, lockTimeout)), nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %v", d)
	}
}

// sqliteDSN makes every transaction to take the SQLite writer lock
// at its BEGIN statement, waiting at most lockTimeout for it.
// Parameters which are present in dsn are kept.
func sqliteDSN(dsn string, lockTimeout time.Duration) string {
	path, query, _ := strings.Cut(dsn, "?")
	q, err := url.ParseQuery(query)
	if err != nil {
		q = url.Values{}
	}
	if !q.Has("_txlock") {
		q.Set("_txlock", "immediate")
	}
	if !q.Has("_busy_timeout") && !q.Has("_timeout") {
		q.Set("_busy_timeout", fmt.Sprint(lockTimeout.Milliseconds()))
	}
	return path + "?" + q.Encode()
}

// lock acquires the exclusive version-scope lock in the tx transaction.
// SQLite transactions are already exclusive since they are begun with
// the immediate locking mode.
func (d Dialect) lock(
	ctx context.Context, tx *gorm.DB, timeout time.Duration,
) error {
	if d != Postgres {
		return nil
	}
	err := tx.WithContext(ctx).Exec(fmt.Sprintf(
		"SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds(),
	)).Error
	if err != nil {
		return fmt.Errorf("setting lock timeout: %w", err)
	}
	err = tx.WithContext(ctx).Exec(
		"SELECT pg_advisory_xact_lock(?)", lockKey,
	).Error
	if err != nil {
		return fmt.Errorf("acquiring advisory lock: %w", classify(err))
	}
	return nil
}

// columnType returns the SQL type of a column with the ct type hint.
func (d Dialect) columnType(ct model.ColumnType) string {
	if d == Postgres {
		switch ct {
		case model.Integer:
			return "BIGINT"
		case model.Real:
			return "DOUBLE PRECISION"
		case model.Boolean:
			return "BOOLEAN"
		case model.Bytes:
			return "BYTEA"
		case model.JSON:
			return "JSONB"
		default:
			return "TEXT"
		}
	}
	switch ct {
	case model.Integer, model.Boolean:
		return "INTEGER"
	case model.Real:
		return "REAL"
	case model.Bytes:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// primaryKeyType returns the column definition of a primary key.
func (d Dialect) primaryKeyType(ct model.ColumnType, autoIncr bool) string {
	switch {
	case autoIncr && d == Postgres:
		return "BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	case autoIncr:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	default:
		return d.columnType(ct) + " PRIMARY KEY"
	}
}

// indexesQuery returns a query which lists the index names of a table.
func (d Dialect) indexesQuery() string {
	if d == Postgres {
		return "SELECT indexname FROM pg_indexes" +
			" WHERE schemaname = CURRENT_SCHEMA() AND tablename = ?"
	}
	return "SELECT name FROM sqlite_master" +
		" WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL"
}

// classify marks the lock acquisition failures as ConcurrentAccess
// errors. Other errors are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01": // lock_not_available, deadlock_detected
			return cerr.ConcurrentAccessError(err)
		}
		return err
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return cerr.ConcurrentAccessError(err)
		}
	}
	return err
}
