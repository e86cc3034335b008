// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"fmt"
	"log/slog"

	"github.com/momeni/storemig/pkg/core/cerr"
)

// Schema is an immutable and versioned description of all object stores
// of a database. The root schema of a chain is created by NewSchema and
// has no Migration. Every other schema is created by Migrate (or the
// Schema.Migrate method) and keeps a back-reference to the Migration
// which produced it, hence, the newest schema is also the head of a
// singly linked list of the whole schema history.
//
// Schema values must not be modified after their creation. A new
// version is always a new Schema value.
type Schema struct {
	Version   int
	Stores    ObjectStores
	Migration *Migration // nil for the root schema
}

// Migration transforms its Base schema (with From version) into a new
// schema with To version by removing the Removed columns and then
// adding the Added columns.
//
// Removing the primary key column of a store drops that store.
// Adding a primary key column to a missing store creates that store.
type Migration struct {
	From    int
	To      int
	Base    *Schema
	Added   ObjectStores
	Removed Removals
}

// NewSchema creates a root schema with the given version and stores.
// Each store must have exactly one primary key column. The stores
// argument is copied, so caller may keep modifying it.
func NewSchema(version int, stores ObjectStores) (*Schema, error) {
	if version < 1 {
		return nil, cerr.SchemaContractf(
			"schema version (%d) must be positive", version,
		)
	}
	for _, sn := range stores.Names() {
		if err := validateNewStore(sn, stores[sn]); err != nil {
			return nil, err
		}
	}
	return &Schema{Version: version, Stores: stores.Clone()}, nil
}

// MustNewSchema is like NewSchema but panics on errors. It simplifies
// the definition of static schema chains in package-level variables.
func MustNewSchema(version int, stores ObjectStores) *Schema {
	s, err := NewSchema(version, stores)
	if err != nil {
		panic(err)
	}
	return s
}

// Migrate validates the m migration and creates the schema which is
// produced by applying it on m.Base. The m is kept as the Migration
// back-reference of the returned schema, so it must not be modified
// afterwards.
func Migrate(m *Migration) (*Schema, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &Schema{
		Version: m.To,
		Stores: MergeColumns(
			RemoveColumns(m.Base.Stores, m.Removed), m.Added,
		),
		Migration: m,
	}, nil
}

// Migrate creates the next schema version from s. The removed and added
// arguments are copied before being kept in the created Migration.
func (s *Schema) Migrate(
	to int, removed Removals, added ObjectStores,
) (*Schema, error) {
	return Migrate(&Migration{
		From:    s.Version,
		To:      to,
		Base:    s,
		Added:   added.Clone(),
		Removed: removed.Clone(),
	})
}

// MustMigrate is like Migrate but panics on errors.
func (s *Schema) MustMigrate(
	to int, removed Removals, added ObjectStores,
) *Schema {
	ns, err := s.Migrate(to, removed, added)
	if err != nil {
		panic(err)
	}
	return ns
}

// IsRoot reports whether s has no predecessor.
func (s *Schema) IsRoot() bool {
	return s.Migration == nil
}

// LogValue implements slog.LogValuer.
func (s *Schema) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("version", s.Version),
		slog.Any("stores", s.Stores.Names()),
	)
}

// Label returns the "from->to" representation of m.
func (m *Migration) Label() string {
	return fmt.Sprintf("%d->%d", m.From, m.To)
}

// LogValue implements slog.LogValuer.
func (m *Migration) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("from", m.From),
		slog.Int("to", m.To),
		slog.Any("added", m.Added.Names()),
		slog.Any("removed", m.Removed.Names()),
	)
}

// Validate checks the m migration contracts. It returns an *cerr.Error
// with the SchemaContract kind if
//   - m has no base schema or its versions are not increasing,
//   - a removed column (or store) does not exist in the base schema,
//   - an added column already exists (un-removed) in the base schema,
//   - an added store lacks a primary key or an existing store receives
//     a second primary key,
//   - a column violates its variant rules (see Column.Validate).
func (m *Migration) Validate() error {
	if m.Base == nil {
		return cerr.SchemaContractf("migration has no base schema")
	}
	label := m.Label()
	if m.Base.Version != m.From {
		return cerr.SchemaContractf(
			"base schema has version %d", m.Base.Version,
		).At(cerr.Op{Migration: label})
	}
	if m.To <= m.From {
		return cerr.SchemaContractf(
			"target version must be greater than %d", m.From,
		).At(cerr.Op{Migration: label})
	}
	base := m.Base.Stores
	for _, sn := range m.Removed.Names() {
		os, ok := base[sn]
		if !ok {
			return cerr.SchemaContractf(
				"removing from a missing store",
			).At(cerr.Op{Migration: label, Action: "remove", Store: sn})
		}
		for _, cn := range m.Removed.Columns(sn) {
			if _, ok := os[cn]; !ok {
				return cerr.SchemaContractf(
					"removing a missing column",
				).At(cerr.Op{
					Migration: label, Action: "remove",
					Store: sn, Column: cn,
				})
			}
		}
	}
	kept := RemoveColumns(base, m.Removed)
	for _, sn := range m.Added.Names() {
		added := m.Added[sn]
		old, exists := kept[sn]
		if !exists {
			if err := validateNewStore(sn, added); err != nil {
				err.Op.Migration, err.Op.Action = label, "add"
				return err
			}
			continue
		}
		for _, cn := range added.Names() {
			op := cerr.Op{
				Migration: label, Action: "add", Store: sn, Column: cn,
			}
			c := added[cn]
			if _, dup := old[cn]; dup {
				return cerr.SchemaContractf(
					"column already exists",
				).At(op)
			}
			if err := c.Validate(); err != nil {
				return cerr.SchemaContractf("%w", err).At(op)
			}
			if c.Kind == PrimaryKey {
				return cerr.SchemaContractf(
					"store already has a primary key",
				).At(op)
			}
		}
	}
	return nil
}

// validateNewStore checks that os can be created as a new store, so it
// must have exactly one primary key and only valid columns.
func validateNewStore(name string, os ObjectStore) *cerr.Error {
	pks := 0
	for _, cn := range os.Names() {
		c := os[cn]
		if err := c.Validate(); err != nil {
			return cerr.SchemaContractf("%w", err).At(
				cerr.Op{Store: name, Column: cn},
			)
		}
		if c.Kind == PrimaryKey {
			pks++
		}
	}
	if pks != 1 {
		return cerr.SchemaContractf(
			"new store must have exactly one primary key, has %d", pks,
		).At(cerr.Op{Store: name})
	}
	return nil
}
