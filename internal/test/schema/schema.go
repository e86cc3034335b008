// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package schema is an internal helper for the backend test packages.
// Its Verifier compares the physical layout of a migrated database
// with the object stores of a model.Schema, and its Conformance
// function runs the scenarios which every repo.Backend implementation
// must pass. Only the layout (stores, primary keys, indexes, and plain
// columns for backends which declare them) is checked and not the
// stored records.
package schema

import (
	"context"
	"slices"
	"testing"

	"github.com/momeni/storemig/pkg/core/model"
	"github.com/momeni/storemig/pkg/core/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Verifier wraps a backend in order to verify its physical layout.
type Verifier struct {
	b repo.Backend
}

// NewVerifier instantiates a Verifier for the b backend.
func NewVerifier(b repo.Backend) *Verifier {
	return &Verifier{b: b}
}

// Version reads the version marker of the wrapped backend.
func (v *Verifier) Version(ctx context.Context, t *testing.T) int {
	t.Helper()
	var ver int
	err := v.b.VersionScope(ctx, func(
		ctx context.Context, s repo.Scope,
	) (err error) {
		ver, err = s.ReadVersion(ctx)
		return err
	})
	require.NoError(t, err, "reading version marker")
	return ver
}

// VerifySchema checks that the wrapped backend is at the version of
// the s schema and that every store of s exists with the expected
// primary key, indexes, and plain columns. Stores which are given in
// absent must not exist.
func (v *Verifier) VerifySchema(
	ctx context.Context, t *testing.T, s *model.Schema, absent ...string,
) {
	t.Helper()
	err := v.b.VersionScope(ctx, func(
		ctx context.Context, sc repo.Scope,
	) error {
		ver, err := sc.ReadVersion(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, s.Version, ver, "version marker")
		for _, sn := range s.Stores.Names() {
			ok, err := sc.StoreExists(ctx, sn)
			if err != nil {
				return err
			}
			if !assert.True(t, ok, "store %q must exist", sn) {
				continue
			}
			l, err := sc.Describe(ctx, sn)
			if err != nil {
				return err
			}
			verifyLayout(t, sn, s.Stores[sn], l)
		}
		for _, sn := range absent {
			ok, err := sc.StoreExists(ctx, sn)
			if err != nil {
				return err
			}
			assert.False(t, ok, "store %q must not exist", sn)
		}
		return nil
	})
	require.NoError(t, err, "verifying schema v%d", s.Version)
}

func verifyLayout(t *testing.T, sn string, os model.ObjectStore, l repo.Layout) {
	t.Helper()
	pk, _, _ := os.PrimaryKey()
	assert.Equal(t, pk, l.PrimaryKey, "primary key of %q", sn)
	var indexes, columns []string
	for _, cn := range os.Names() {
		switch os[cn].Kind {
		case model.Index:
			indexes = append(indexes, cn)
		case model.Plain:
			columns = append(columns, cn)
		}
	}
	assert.Equal(t, indexes, nilIfEmpty(l.Indexes), "indexes of %q", sn)
	if !l.Schemaless {
		assert.Equal(t, columns, nilIfEmpty(l.Columns), "columns of %q", sn)
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return slices.Clone(s)
}

// VerifyAbsent checks that none of the given stores exist.
func (v *Verifier) VerifyAbsent(
	ctx context.Context, t *testing.T, stores ...string,
) {
	t.Helper()
	err := v.b.VersionScope(ctx, func(
		ctx context.Context, sc repo.Scope,
	) error {
		for _, sn := range stores {
			ok, err := sc.StoreExists(ctx, sn)
			if err != nil {
				return err
			}
			assert.False(t, ok, "store %q must not exist", sn)
		}
		return nil
	})
	require.NoError(t, err, "verifying absent stores")
}
