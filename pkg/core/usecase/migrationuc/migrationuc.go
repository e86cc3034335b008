// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package migrationuc provides the schema migration use case. It takes
// the newest schema of a migration chain and a repo.Backend, reads the
// version which is recorded in that backend, resolves the outstanding
// migrations, and applies their structural changes in order, all in
// one exclusive version-scope. The version marker is updated in the
// same scope, so the caller either observes a database at the newest
// schema version or an error and an unmodified database.
package migrationuc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/log"
	"github.com/momeni/storemig/pkg/core/model"
	"github.com/momeni/storemig/pkg/core/repo"
)

// UseCase represents the schema migration use case for one backend and
// one migration chain.
type UseCase struct {
	backend repo.Backend
	history *model.History

	observer Observer
	runID    string
}

// New instantiates a migration use case which migrates the b backend
// to the version of the head schema.
// Required parameters are passed individually, while optional ones
// are passed as functional options.
//
// The whole migration chain of head is checked eagerly, so chain
// integrity and schema contract violations are reported here, before
// any backend call.
func New(b repo.Backend, head *model.Schema, opts ...Option) (*UseCase, error) {
	h, err := model.NewHistory(head)
	if err != nil {
		return nil, fmt.Errorf("indexing schema history: %w", err)
	}
	if err = validateChain(h); err != nil {
		return nil, err
	}
	uc := &UseCase{backend: b, history: h}
	for _, opt := range opts {
		if err := opt(uc); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}
	// now, deal with defaults
	if uc.observer == nil {
		uc.observer = nopObserver{}
	}
	if uc.runID == "" {
		uc.runID = uuid.NewString()
	}
	return uc, nil
}

// validateChain re-checks every migration of h. Migrations which were
// built by model.Migrate are already valid, but migrations may also be
// linked manually, so their Stores may also disagree with the outcome
// of their Migration.
func validateChain(h *model.History) error {
	for _, v := range h.Versions() {
		s, _ := h.SchemaAt(v)
		m := s.Migration
		if m == nil {
			continue
		}
		if err := m.Validate(); err != nil {
			return err
		}
		want := model.MergeColumns(
			model.RemoveColumns(m.Base.Stores, m.Removed), m.Added,
		)
		if !s.Stores.Equal(want) {
			return cerr.SchemaContractf(
				"stores of schema v%d do not match its migration", v,
			).At(cerr.Op{Migration: m.Label()})
		}
	}
	return nil
}

// History returns the indexed migration chain of uc.
func (uc *UseCase) History() *model.History {
	return uc.history
}

// Plan describes the state of a backend with regards to the head
// schema of a migration chain.
type Plan struct {
	// Current is the version which is recorded in the backend.
	// Zero indicates a database which was never migrated.
	Current int

	// Target is the head schema version.
	Target int

	// Migrations are the outstanding migrations, oldest first.
	// The first migration may be the bootstrap migration (with zero
	// From version) which creates the stores of the root schema.
	Migrations []*model.Migration
}

// Labels returns the "from->to" labels of p migrations.
func (p *Plan) Labels() []string {
	labels := make([]string, 0, len(p.Migrations))
	for _, m := range p.Migrations {
		labels = append(labels, m.Label())
	}
	return labels
}

// Resolve computes the outstanding migrations of the h chain for a
// backend which is at the current version, without touching any
// backend. A zero current version stands for an empty database, so the
// bootstrap migration of the root schema (if any) comes first.
func Resolve(h *model.History, current int) (*Plan, error) {
	if current < 0 {
		return nil, cerr.StructuralInconsistencyf(
			"negative version marker: %d", current,
		)
	}
	p := &Plan{Current: current, Target: h.Head().Version}
	var pre []*model.Migration
	if current == 0 {
		if m := h.Bootstrap(); m != nil {
			pre = append(pre, m)
		}
	}
	ms, err := h.Outstanding(h.Normalize(current))
	if err != nil {
		return nil, err
	}
	p.Migrations = append(pre, ms...)
	return p, nil
}

func (uc *UseCase) resolve(current int) (*Plan, error) {
	return Resolve(uc.history, current)
}

// Plan reads the version marker of the backend and returns the
// migrations which would be applied by Apply, without applying them.
// The version-scope which is used for reading the marker is acquired
// exclusively and committed without any change.
func (uc *UseCase) Plan(ctx context.Context) (p *Plan, err error) {
	err = uc.backend.VersionScope(ctx, func(
		ctx context.Context, s repo.Scope,
	) error {
		current, err := uc.readVersion(ctx, s)
		if err != nil {
			return err
		}
		p, err = uc.resolve(current)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("planning migrations: %w", err)
	}
	return p, nil
}

// Apply runs the migration state machine:
//  1. acquires the backend version-scope,
//  2. reads the version marker (a missing marker reads as zero),
//  3. resolves the outstanding migrations and lets a repo.KeyChecker
//     backend verify the primary keys of all stores to be created,
//  4. applies their removals and
//  5. their additions, migration by migration,
//  6. writes the head version as the new version marker, and
//  7. commits the version-scope.
//
// Any error in steps 2 to 6 aborts the version-scope, rolling back all
// changes of this activation, and is returned with its operation
// coordinates. Errors are not retried. If the backend is already at
// the head version, no structural operation is performed.
// The returned Plan describes the applied migrations.
func (uc *UseCase) Apply(ctx context.Context) (p *Plan, err error) {
	if err = validateChain(uc.history); err != nil {
		return nil, err
	}
	uc.info(ctx, "acquiring version-scope",
		log.Version("target", uc.history.Head().Version),
	)
	start := time.Now()
	err = uc.backend.VersionScope(ctx, func(
		ctx context.Context, s repo.Scope,
	) error {
		current, err := uc.readVersion(ctx, s)
		if err != nil {
			return err
		}
		p, err = uc.resolve(current)
		if err != nil {
			return err
		}
		if err = uc.checkKeys(p.Migrations); err != nil {
			return err
		}
		for _, m := range p.Migrations {
			if err := uc.applyMigration(ctx, s, m); err != nil {
				return err
			}
		}
		return uc.writeVersion(ctx, s, p.Target)
	})
	commit := Event{
		RunID:    uc.runID,
		Backend:  uc.backend.Kind(),
		Action:   ActionCommit,
		Err:      err,
		Duration: time.Since(start),
	}
	if err != nil {
		uc.observer.Observe(commit)
		log.Error(ctx, "migration aborted", uc.attrs(log.Err("err", err))...)
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	commit.Applied = len(p.Migrations)
	uc.observer.Observe(commit)
	uc.info(ctx, "migration committed",
		log.Version("from", p.Current), log.Version("to", p.Target),
		slog.Int("applied", len(p.Migrations)),
	)
	return p, nil
}

// Status describes the recorded version of a backend and the physical
// layout of the stores which are declared by the head schema.
type Status struct {
	Current int                    `json:"current"`
	Target  int                    `json:"target"`
	Pending []string               `json:"pending"`
	Stores  map[string]repo.Layout `json:"stores"`
	Missing []string               `json:"missing,omitempty"`
}

// UpToDate reports whether the backend is at the head schema version.
func (st *Status) UpToDate() bool {
	return st.Current == st.Target
}

// Status reads the version marker of the backend and describes the
// stores of the head schema. Stores which are declared by the head
// schema but are not found physically are listed as Missing. Nothing
// is modified.
func (uc *UseCase) Status(ctx context.Context) (st *Status, err error) {
	head := uc.history.Head()
	err = uc.backend.VersionScope(ctx, func(
		ctx context.Context, s repo.Scope,
	) error {
		current, err := uc.readVersion(ctx, s)
		if err != nil {
			return err
		}
		st = &Status{
			Current: current,
			Target:  head.Version,
			Stores:  make(map[string]repo.Layout),
		}
		p, err := uc.resolve(current)
		if err != nil {
			return err
		}
		st.Pending = p.Labels()
		for _, sn := range head.Stores.Names() {
			ok, err := s.StoreExists(ctx, sn)
			if err != nil {
				return cerr.Wrap(err, cerr.Op{Store: sn})
			}
			if !ok {
				st.Missing = append(st.Missing, sn)
				continue
			}
			l, err := s.Describe(ctx, sn)
			if err != nil {
				return cerr.Wrap(err, cerr.Op{Store: sn})
			}
			st.Stores[sn] = l
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}
	return st, nil
}
