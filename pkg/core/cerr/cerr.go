// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package cerr defines the core errors taxonomy. Every failure which
// aborts a migration is reported as an *Error value which carries its
// Kind, the failed operation coordinates (migration, store, column,
// and action), and the underlying cause. The ErrXxx sentinels may be
// passed to errors.Is in order to check for a specific Kind without
// type asserting the returned error.
package cerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind uint8

// These constants list the supported error kinds.
const (
	// ChainIntegrity indicates that the linked schema history does not
	// contain the version which is recorded in a database.
	ChainIntegrity Kind = iota + 1

	// SchemaContract indicates that a migration re-adds an existing
	// column, removes a missing column, or violates the column variant
	// rules (e.g., two primary keys in one store).
	SchemaContract

	// StructuralInconsistency indicates that the physical database
	// does not match the declared schema history, e.g., a store which
	// is expected to exist is missing.
	StructuralInconsistency

	// BackendOperation indicates that the backend rejected a call.
	BackendOperation

	// ConcurrentAccess indicates that the version-scope could not be
	// acquired exclusively. Callers may retry at their discretion.
	ConcurrentAccess
)

var kindNames = map[Kind]string{
	ChainIntegrity:          "chain-integrity",
	SchemaContract:          "schema-contract",
	StructuralInconsistency: "structural-inconsistency",
	BackendOperation:        "backend-operation",
	ConcurrentAccess:        "concurrent-access",
}

// String returns the dash-separated name of k.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// These sentinels can be used with errors.Is in order to check the Kind
// of an error, e.g., errors.Is(err, cerr.ErrChainIntegrity).
var (
	ErrChainIntegrity          = &Error{Kind: ChainIntegrity}
	ErrSchemaContract          = &Error{Kind: SchemaContract}
	ErrStructuralInconsistency = &Error{Kind: StructuralInconsistency}
	ErrBackendOperation        = &Error{Kind: BackendOperation}
	ErrConcurrentAccess        = &Error{Kind: ConcurrentAccess}
)

// Op identifies the operation which failed. All fields are optional.
type Op struct {
	Migration string // like "2->3"
	Action    string // like "drop-index"
	Store     string
	Column    string
}

// IsZero reports whether no field of op is set.
func (op Op) IsZero() bool {
	return op == Op{}
}

// String formats op as "action store.column (migration m)" skipping
// its empty fields.
func (op Op) String() string {
	var b strings.Builder
	b.WriteString(op.Action)
	if op.Store != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(op.Store)
		if op.Column != "" {
			b.WriteByte('.')
			b.WriteString(op.Column)
		}
	}
	if op.Migration != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("(migration ")
		b.WriteString(op.Migration)
		b.WriteByte(')')
	}
	return b.String()
}

// Error is the core error type.
type Error struct {
	Kind Kind
	Op   Op
	Err  error
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of e.Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Op.IsZero() && t.Kind == e.Kind
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(e.Kind.String())
	b.WriteByte(']')
	if !e.Op.IsZero() {
		b.WriteByte(' ')
		b.WriteString(e.Op.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// At sets the operation coordinates of e and returns e itself.
func (e *Error) At(op Op) *Error {
	e.Op = op
	return e
}

// ChainIntegrityf creates a ChainIntegrity error from a format string.
func ChainIntegrityf(format string, args ...any) *Error {
	return &Error{Kind: ChainIntegrity, Err: fmt.Errorf(format, args...)}
}

// SchemaContractf creates a SchemaContract error from a format string.
func SchemaContractf(format string, args ...any) *Error {
	return &Error{Kind: SchemaContract, Err: fmt.Errorf(format, args...)}
}

// StructuralInconsistencyf creates a StructuralInconsistency error from
// a format string.
func StructuralInconsistencyf(format string, args ...any) *Error {
	return &Error{
		Kind: StructuralInconsistency, Err: fmt.Errorf(format, args...),
	}
}

// BackendOperationError wraps err which was returned by a backend.
func BackendOperationError(err error) *Error {
	return &Error{Kind: BackendOperation, Err: err}
}

// ConcurrentAccessError wraps err which indicates that the
// version-scope could not be acquired exclusively.
func ConcurrentAccessError(err error) *Error {
	return &Error{Kind: ConcurrentAccess, Err: err}
}

// KindOf returns the Kind of the first *Error in the err chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Wrap annotates err with op. If err already contains an *Error, its
// Kind is kept and op is attached (to a copy or a new wrapping *Error)
// only when it has no coordinates yet. The found *Error is never
// modified since it may be shared, e.g., one of the ErrXxx sentinels.
// Otherwise, err is classified as a BackendOperation error.
// A nil err is returned as nil.
func Wrap(err error, op Op) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		switch {
		case !e.Op.IsZero():
			return err
		case e == err:
			c := *e
			c.Op = op
			return &c
		default:
			return &Error{Kind: e.Kind, Op: op, Err: err}
		}
	}
	return BackendOperationError(err).At(op)
}
