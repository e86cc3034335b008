// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package capmock is an internal helper for the test packages.
// It provides an in-memory repo.Backend which records every structural
// operation that it receives, keeps a physical state (stores, indexes,
// columns, and the version marker) which is rolled back when a
// version-scope is aborted, and can be instructed to fail a specific
// operation. It may be used in the use case level tests which need to
// verify the exact sequence of backend calls without a real DBMS.
package capmock

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/repo"
)

// Call is one recorded backend call, formatted as "action store.column"
// or "action store" or "action" (e.g., "create-index users.email").
type Call string

// ErrInjected is returned by the operations which were selected by
// the Backend.FailOn method.
var ErrInjected = errors.New("injected failure")

type store struct {
	pk      repo.Key
	indexes map[string]repo.Index
	fields  map[string]repo.Field
}

func (s *store) clone() *store {
	return &store{
		pk:      s.pk,
		indexes: maps.Clone(s.indexes),
		fields:  maps.Clone(s.fields),
	}
}

type state struct {
	version int
	stores  map[string]*store
}

func (st state) clone() state {
	c := state{version: st.version, stores: make(map[string]*store)}
	for n, s := range st.stores {
		c.stores[n] = s.clone()
	}
	return c
}

// Backend is an in-memory repo.Backend. Its zero value is not usable,
// use the New function instead.
type Backend struct {
	lock sync.Mutex // version-scope lock
	mu   sync.Mutex // protects the following fields

	committed state
	calls     []Call
	failOn    map[Call]error
	checkKey  func(store string, k repo.Key) error
	scopes    int
	commits   int
	aborts    int
	closed    bool
}

// New creates an empty Backend which reports a zero version marker.
func New() *Backend {
	return &Backend{
		committed: state{stores: make(map[string]*store)},
		failOn:    make(map[Call]error),
	}
}

// FailOn makes the c call fail with err. A nil err is replaced by
// ErrInjected.
func (b *Backend) FailOn(c Call, err error) {
	if err == nil {
		err = ErrInjected
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failOn[c] = err
}

// RejectKeys installs f as the repo.KeyChecker of b. It is called for
// every store which an Apply run is going to create. Such checks are
// not recorded as calls.
func (b *Backend) RejectKeys(f func(store string, k repo.Key) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkKey = f
}

// CheckKey implements repo.KeyChecker.
func (b *Backend) CheckKey(store string, k repo.Key) error {
	b.mu.Lock()
	f := b.checkKey
	b.mu.Unlock()
	if f == nil {
		return nil
	}
	return f(store, k)
}

// Calls returns the recorded calls of all version-scopes, excluding
// the StoreExists and Describe calls which do not change anything.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.calls)
}

// StructuralCalls returns the recorded calls, excluding the version
// marker reads and writes.
func (b *Backend) StructuralCalls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	var cs []Call
	for _, c := range b.calls {
		if !strings.HasSuffix(string(c), "-version") {
			cs = append(cs, c)
		}
	}
	return cs
}

// ResetCalls forgets the recorded calls.
func (b *Backend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// Counts returns the number of opened, committed, and aborted scopes.
func (b *Backend) Counts() (scopes, commits, aborts int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.scopes, b.commits, b.aborts
}

// Version returns the committed version marker.
func (b *Backend) Version() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed.version
}

// SetVersion overwrites the committed version marker.
func (b *Backend) SetVersion(v int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.committed.version = v
}

// Stores returns the sorted names of the committed stores.
func (b *Backend) Stores() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Sorted(maps.Keys(b.committed.stores))
}

// Layout returns the committed layout of the named store.
func (b *Backend) Layout(name string) (repo.Layout, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.committed.stores[name]
	if !ok {
		return repo.Layout{}, false
	}
	return s.layout(), true
}

func (s *store) layout() repo.Layout {
	return repo.Layout{
		PrimaryKey: s.pk.Column,
		Indexes:    slices.Sorted(maps.Keys(s.indexes)),
		Columns:    slices.Sorted(maps.Keys(s.fields)),
	}
}

// Kind returns "capmock".
func (b *Backend) Kind() string {
	return "capmock"
}

// Close marks b as closed. Further version-scopes will fail.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// VersionScope runs handler on a copy of the committed state and
// replaces the committed state with that copy only if handler returns
// nil. If another version-scope is running, a ConcurrentAccess error
// is returned without calling handler.
func (b *Backend) VersionScope(
	ctx context.Context, handler repo.ScopeHandler,
) (err error) {
	if !b.lock.TryLock() {
		return cerr.ConcurrentAccessError(errors.New("version-scope is held"))
	}
	defer b.lock.Unlock()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("backend is closed")
	}
	b.scopes++
	s := &scope{b: b, st: b.committed.clone()}
	b.mu.Unlock()
	committed := false
	defer func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if committed {
			b.committed = s.st
			b.commits++
		} else {
			b.aborts++
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	if err = handler(ctx, s); err != nil {
		return err
	}
	committed = true
	return nil
}

type scope struct {
	b  *Backend
	st state
}

func (s *scope) record(c Call) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.calls = append(s.b.calls, c)
	return s.b.failOn[c]
}

func call(action string, names ...string) Call {
	if len(names) == 0 {
		return Call(action)
	}
	return Call(action + " " + strings.Join(names, "."))
}

func (s *scope) ReadVersion(ctx context.Context) (int, error) {
	if err := s.record(call("read-version")); err != nil {
		return 0, err
	}
	return s.st.version, nil
}

func (s *scope) WriteVersion(ctx context.Context, v int) error {
	if err := s.record(call("write-version")); err != nil {
		return err
	}
	s.st.version = v
	return nil
}

func (s *scope) StoreExists(ctx context.Context, name string) (bool, error) {
	_, ok := s.st.stores[name]
	return ok, nil
}

func (s *scope) CreateStore(
	ctx context.Context, name string, pk repo.Key,
) error {
	if err := s.record(call("create-store", name)); err != nil {
		return err
	}
	if _, ok := s.st.stores[name]; ok {
		return fmt.Errorf("store %q already exists", name)
	}
	s.st.stores[name] = &store{
		pk:      pk,
		indexes: make(map[string]repo.Index),
		fields:  make(map[string]repo.Field),
	}
	return nil
}

func (s *scope) DropStore(ctx context.Context, name string) error {
	if err := s.record(call("drop-store", name)); err != nil {
		return err
	}
	if _, ok := s.st.stores[name]; !ok {
		return fmt.Errorf("store %q does not exist", name)
	}
	delete(s.st.stores, name)
	return nil
}

func (s *scope) lookup(name string) (*store, error) {
	st, ok := s.st.stores[name]
	if !ok {
		return nil, fmt.Errorf("store %q does not exist", name)
	}
	return st, nil
}

func (s *scope) CreateIndex(
	ctx context.Context, name string, idx repo.Index,
) error {
	if err := s.record(call("create-index", name, idx.Column)); err != nil {
		return err
	}
	st, err := s.lookup(name)
	if err != nil {
		return err
	}
	if _, ok := st.indexes[idx.Column]; ok {
		return fmt.Errorf("index %q already exists", idx.Column)
	}
	st.indexes[idx.Column] = idx
	return nil
}

func (s *scope) DropIndex(ctx context.Context, name, column string) error {
	if err := s.record(call("drop-index", name, column)); err != nil {
		return err
	}
	st, err := s.lookup(name)
	if err != nil {
		return err
	}
	if _, ok := st.indexes[column]; !ok {
		return fmt.Errorf("index %q does not exist", column)
	}
	delete(st.indexes, column)
	return nil
}

func (s *scope) AddColumn(
	ctx context.Context, name string, f repo.Field,
) error {
	if err := s.record(call("add-column", name, f.Column)); err != nil {
		return err
	}
	st, err := s.lookup(name)
	if err != nil {
		return err
	}
	if _, ok := st.fields[f.Column]; ok {
		return fmt.Errorf("column %q already exists", f.Column)
	}
	st.fields[f.Column] = f
	return nil
}

func (s *scope) DropColumn(ctx context.Context, name, column string) error {
	if err := s.record(call("drop-column", name, column)); err != nil {
		return err
	}
	st, err := s.lookup(name)
	if err != nil {
		return err
	}
	if _, ok := st.fields[column]; !ok {
		return fmt.Errorf("column %q does not exist", column)
	}
	delete(st.fields, column)
	return nil
}

func (s *scope) Describe(ctx context.Context, name string) (repo.Layout, error) {
	st, err := s.lookup(name)
	if err != nil {
		return repo.Layout{}, err
	}
	return st.layout(), nil
}
