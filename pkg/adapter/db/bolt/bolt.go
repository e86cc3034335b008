// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bolt provides a key-value repo.Backend over a bbolt database
// file. Each object store is a top-level bucket which keeps its
// primary key and index definitions as a JSON document (the _meta
// key), one sub-bucket per index (in the _indexes bucket), and the
// records themselves (in the _records bucket). The version marker is
// kept in the _config bucket as a big-endian uint64.
//
// A bbolt file may be opened by one process at a time, so opening a
// file which is held by another process times out with a
// ConcurrentAccess error. In one process, version-scopes are
// serialized by the bbolt writer transaction.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/repo"
	bbolt "go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"
)

// Backend is a key-value repo.Backend which wraps a *bbolt.DB.
type Backend struct {
	db          *bbolt.DB
	lockTimeout time.Duration
}

// Option is a functional option for the Open function.
type Option func(b *Backend) error

// WithLockTimeout sets the amount of time which Open waits for the
// file lock. It defaults to the repo.LockTimeout value.
func WithLockTimeout(d time.Duration) Option {
	return func(b *Backend) error {
		if d <= 0 {
			return fmt.Errorf("lock timeout (%v) is not positive", d)
		}
		b.lockTimeout = d
		return nil
	}
}

// Open opens (or creates) the bbolt database file at path.
func Open(path string, opts ...Option) (*Backend, error) {
	b := &Backend{lockTimeout: repo.LockTimeout}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: b.lockTimeout,
	})
	if err != nil {
		if errors.Is(err, bberrors.ErrTimeout) {
			err = cerr.ConcurrentAccessError(fmt.Errorf(
				"database is blocked by another process: %w", err,
			))
		}
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	b.db = db
	return b, nil
}

// Kind returns "bolt".
func (b *Backend) Kind() string {
	return "bolt"
}

// Path returns the path of the database file.
func (b *Backend) Path() string {
	return b.db.Path()
}

// Close releases the database file.
func (b *Backend) Close() error {
	return b.db.Close()
}

// VersionScope runs handler in a bbolt writer transaction which is
// committed if handler returns nil and is rolled back otherwise.
func (b *Backend) VersionScope(
	ctx context.Context, handler repo.ScopeHandler,
) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panicked: %v", r)
			}
		}()
		return handler(ctx, &scope{tx: tx})
	})
}
