// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package repo defines the structural capability interfaces which the
// core use cases expect from the database backends. Each backend kind
// (relational, key-value, document) provides one implementation of the
// Backend interface in the adapters layer, so the migration use case
// can apply schema changes without knowing which backend it talks to.
package repo

import (
	"context"
	"time"

	"github.com/momeni/storemig/pkg/core/model"
)

// ScopeHandler is called by Backend.VersionScope with an open Scope.
// Returning a nil error commits the scope, while returning an error
// (or panicking) aborts it.
type ScopeHandler func(ctx context.Context, s Scope) error

// Backend represents an open physical database.
type Backend interface {
	// VersionScope acquires an exclusive version-scope, calls the
	// handler with it, and commits the scope if handler returns nil.
	// Otherwise, all structural changes and version marker updates
	// which were performed by handler are rolled back and the handler
	// error is returned (possibly wrapped with a rollback error).
	//
	// If the scope could not be acquired exclusively because another
	// connection holds it, an error with the cerr.ConcurrentAccess kind
	// is returned and handler is not called.
	VersionScope(ctx context.Context, handler ScopeHandler) error

	// Kind returns a short name of the backend, like "postgres",
	// "sqlite", "bolt", or "mongo". It is used for logs and metrics.
	Kind() string

	// Close releases the backend resources.
	Close() error
}

// Scope is an open version-scope. It is unsafe to be used concurrently
// and must not be used after its handler returns.
//
// Schemaless backends may implement AddColumn and DropColumn as no-ops
// since absent fields are implicitly removed and new fields appear on
// their next writes.
type Scope interface {
	// ReadVersion returns the persisted version marker. A database
	// which has no marker yet reports zero.
	ReadVersion(ctx context.Context) (int, error)

	// WriteVersion inserts or updates the version marker.
	WriteVersion(ctx context.Context, v int) error

	// StoreExists reports whether the named store exists.
	StoreExists(ctx context.Context, store string) (bool, error)

	// CreateStore creates the named store with its primary key.
	CreateStore(ctx context.Context, store string, pk Key) error

	// DropStore drops the named store with all of its data.
	DropStore(ctx context.Context, store string) error

	// CreateIndex creates a secondary index on column of store without
	// touching the existing records.
	CreateIndex(ctx context.Context, store string, idx Index) error

	// DropIndex drops the index of column in store. Document and
	// key-value backends keep the indexed values in their records,
	// while relational backends drop the indexed column too.
	DropIndex(ctx context.Context, store, column string) error

	// AddColumn adds a plain column to store.
	AddColumn(ctx context.Context, store string, col Field) error

	// DropColumn drops a plain column of store, losing its data.
	DropColumn(ctx context.Context, store, column string) error

	// Describe reports the physical layout of the named store.
	Describe(ctx context.Context, store string) (Layout, error)
}

// Layout is the physical layout of one store as it is reported by a
// backend. All names are sorted.
type Layout struct {
	PrimaryKey string   `json:"primaryKey"`
	Indexes    []string `json:"indexes,omitempty"`

	// Columns lists the plain columns. It is always empty for the
	// Schemaless layouts since their plain fields are not declared.
	Columns    []string `json:"columns,omitempty"`
	Schemaless bool     `json:"schemaless,omitempty"`
}

// Key describes the primary key of a store which is being created.
type Key struct {
	Column        string
	KeyPath       []string // never empty
	Type          model.ColumnType
	AutoIncrement bool
}

// KeyChecker is an optional capability of a Backend. Backends which
// can not create some primary keys, or reserve some store names,
// implement it so the keys of all outstanding migrations are checked
// before the first structural operation. It matters most for backends
// which can not roll back their DDL.
type KeyChecker interface {
	// CheckKey returns a cerr SchemaContract error if the store can not
	// be created with the k primary key.
	CheckKey(store string, k Key) error
}

// Index describes a secondary index which is being created.
type Index struct {
	Column     string
	KeyPath    []string // never empty
	Type       model.ColumnType
	Unique     bool
	MultiEntry bool
}

// Field describes a plain column which is being added.
type Field struct {
	Column string
	Type   model.ColumnType
}

// LockTimeout is the default amount of time that a backend waits in
// order to acquire its version-scope before reporting a concurrent
// access error.
const LockTimeout = 5 * time.Second
