// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"slices"

	"github.com/momeni/storemig/pkg/core/cerr"
)

// History is an arena of the schemas which are reachable from a head
// schema by following its Migration back-references. Schemas are
// indexed by their versions, so the migration chain can be walked by
// integer lookups and its validity can be checked once, independent of
// the way that schemas were linked together.
type History struct {
	head     *Schema
	root     *Schema
	versions []int // ascending
	schemas  map[int]*Schema
}

// NewHistory walks the head schema chain backwards and indexes all of
// its schemas. It returns an *cerr.Error with the ChainIntegrity kind
// if the chain is not linked consistently, i.e., some migration has
// no base schema, its From/To versions do not match the versions of
// its base/produced schemas, versions are not strictly increasing, or
// the chain contains a cycle.
func NewHistory(head *Schema) (*History, error) {
	if head == nil {
		return nil, cerr.ChainIntegrityf("no schema")
	}
	h := &History{head: head, schemas: make(map[int]*Schema)}
	for s := head; ; {
		if _, dup := h.schemas[s.Version]; dup {
			return nil, cerr.ChainIntegrityf(
				"version %d is repeated in the chain", s.Version,
			)
		}
		h.schemas[s.Version] = s
		h.versions = append(h.versions, s.Version)
		m := s.Migration
		if m == nil {
			h.root = s
			break
		}
		op := cerr.Op{Migration: m.Label()}
		switch {
		case m.To != s.Version:
			return nil, cerr.ChainIntegrityf(
				"migration produced version %d", s.Version,
			).At(op)
		case m.Base == nil:
			return nil, cerr.ChainIntegrityf("missing base schema").At(op)
		case m.Base.Version != m.From:
			return nil, cerr.ChainIntegrityf(
				"base schema has version %d", m.Base.Version,
			).At(op)
		case m.From >= m.To:
			return nil, cerr.ChainIntegrityf(
				"versions are not increasing",
			).At(op)
		}
		s = m.Base
	}
	slices.Reverse(h.versions)
	return h, nil
}

// Head returns the newest schema of h.
func (h *History) Head() *Schema {
	return h.head
}

// Root returns the oldest schema of h which has no migration.
func (h *History) Root() *Schema {
	return h.root
}

// Versions returns all schema versions of h in ascending order.
func (h *History) Versions() []int {
	return slices.Clone(h.versions)
}

// SchemaAt returns the schema with the v version, if it exists in h.
func (h *History) SchemaAt(v int) (*Schema, bool) {
	s, ok := h.schemas[v]
	return s, ok
}

// Normalize maps the version which is read from a database to a version
// of h. A zero version belongs to a database which was never migrated
// and is mapped to the root version, so all migrations are outstanding.
// Other versions are returned unchanged.
func (h *History) Normalize(v int) int {
	if v == 0 {
		return h.root.Version
	}
	return v
}

// Bootstrap returns a migration which creates the stores of the root
// schema in a database that was never migrated. If the root schema has
// no stores, nil is returned since there is nothing to create.
// The returned migration is not part of h and starts from an empty
// schema with version zero.
func (h *History) Bootstrap() *Migration {
	if len(h.root.Stores) == 0 {
		return nil
	}
	return &Migration{
		From:  0,
		To:    h.root.Version,
		Base:  &Schema{Stores: ObjectStores{}},
		Added: h.root.Stores,
	}
}

// Outstanding returns the migrations which must be applied on a database
// with the oldVersion schema version in order to reach the head schema
// version. Migrations are ordered from the oldest to the newest one.
// If oldVersion is equal to the head version, an empty slice is
// returned. If oldVersion is not a version in h (including versions
// newer than the head), an *cerr.Error with the ChainIntegrity kind
// is returned.
func (h *History) Outstanding(oldVersion int) ([]*Migration, error) {
	if oldVersion == h.head.Version {
		return []*Migration{}, nil
	}
	if oldVersion > h.head.Version {
		return nil, cerr.ChainIntegrityf(
			"database version %d is newer than schema version %d",
			oldVersion, h.head.Version,
		)
	}
	var ms []*Migration
	for v := h.head.Version; ; {
		m := h.schemas[v].Migration
		if m == nil {
			return nil, cerr.ChainIntegrityf(
				"missing migrations from version %d to %d",
				oldVersion, v,
			)
		}
		ms = append(ms, m)
		if m.From == oldVersion {
			break
		}
		if m.From < oldVersion {
			return nil, cerr.ChainIntegrityf(
				"missing migrations: version %d is skipped by %s",
				oldVersion, m.Label(),
			)
		}
		v = m.From
	}
	slices.Reverse(ms)
	return ms, nil
}

// OutstandingMigrations resolves the migrations which must be applied
// on a database at oldVersion in order to reach the schema version.
// It is a shortcut for NewHistory(schema) followed by Outstanding.
// The result is ordered by ascending From versions.
func OutstandingMigrations(
	schema *Schema, oldVersion int,
) ([]*Migration, error) {
	h, err := NewHistory(schema)
	if err != nil {
		return nil, err
	}
	return h.Outstanding(oldVersion)
}
