// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ColumnKind tags a Column as one of the three supported variants.
// Each object store has exactly one PrimaryKey column which defines
// its identity, any number of Index columns which are backed by a
// secondary index, and any number of Plain columns which carry no
// storage directive at all.
type ColumnKind uint8

// These constants list the valid ColumnKind values. The zero value
// is Plain, so a zero Column is a valid plain column.
const (
	Plain ColumnKind = iota
	PrimaryKey
	Index
)

// String returns a lower-case name of the ck column kind.
func (ck ColumnKind) String() string {
	switch ck {
	case Plain:
		return "plain"
	case PrimaryKey:
		return "primary-key"
	case Index:
		return "index"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(ck))
	}
}

// MarshalText implements encoding.TextMarshaler interface.
func (ck ColumnKind) MarshalText() ([]byte, error) {
	switch ck {
	case Plain, PrimaryKey, Index:
		return []byte(ck.String()), nil
	default:
		return nil, fmt.Errorf("invalid column kind: %d", uint8(ck))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler interface, so
// column kinds may be written by their names in YAML/JSON documents.
// An empty text is decoded as Plain.
func (ck *ColumnKind) UnmarshalText(text []byte) error {
	switch s := strings.ToLower(string(text)); s {
	case "", "plain":
		*ck = Plain
	case "primary-key", "pk":
		*ck = PrimaryKey
	case "index":
		*ck = Index
	default:
		return fmt.Errorf("unknown column kind: %q", s)
	}
	return nil
}

// ColumnType is a storage type hint for a column. Schemaless backends
// ignore it, while relational backends use it to choose the SQL type
// of the created column. The zero value is Text.
type ColumnType uint8

// These constants list the valid ColumnType values.
const (
	Text ColumnType = iota
	Integer
	Real
	Boolean
	Bytes
	JSON
)

var columnTypeNames = [...]string{
	Text:    "text",
	Integer: "integer",
	Real:    "real",
	Boolean: "boolean",
	Bytes:   "bytes",
	JSON:    "json",
}

// String returns the lower-case name of the ct column type.
func (ct ColumnType) String() string {
	if int(ct) < len(columnTypeNames) {
		return columnTypeNames[ct]
	}
	return fmt.Sprintf("unknown(%d)", uint8(ct))
}

// MarshalText implements encoding.TextMarshaler interface.
func (ct ColumnType) MarshalText() ([]byte, error) {
	if int(ct) >= len(columnTypeNames) {
		return nil, fmt.Errorf("invalid column type: %d", uint8(ct))
	}
	return []byte(ct.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler interface.
// An empty text is decoded as Text.
func (ct *ColumnType) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	if s == "" {
		*ct = Text
		return nil
	}
	for i, n := range columnTypeNames {
		if n == s {
			*ct = ColumnType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown column type: %q", s)
}

// Column describes one named field of an object store. It is a tagged
// union: the Kind field selects the variant and only the fields of
// that variant may be set.
//
//   - PrimaryKey uses KeyPath and AutoIncrement.
//   - Index uses KeyPath, Unique, and MultiEntry.
//   - Plain uses none of them.
//
// The Type hint is valid for all variants. An empty KeyPath stands for
// the column name itself (see the Path method).
type Column struct {
	Kind          ColumnKind `json:"kind"`
	Type          ColumnType `json:"type"`
	KeyPath       []string   `json:"key_path,omitempty"`
	AutoIncrement bool       `json:"auto_increment,omitempty"`
	Unique        bool       `json:"unique,omitempty"`
	MultiEntry    bool       `json:"multi_entry,omitempty"`
}

// ColumnOption configures a Column while it is being created by one
// of the PrimaryKeyColumn, IndexColumn, or PlainColumn functions.
type ColumnOption func(c *Column)

// WithType sets the type hint of a column.
func WithType(t ColumnType) ColumnOption {
	return func(c *Column) {
		c.Type = t
	}
}

// WithKeyPath overrides the key path of a primary key or index column.
func WithKeyPath(path ...string) ColumnOption {
	return func(c *Column) {
		c.KeyPath = append([]string(nil), path...)
	}
}

// AutoIncrementing asks the backend to generate primary key values.
func AutoIncrementing() ColumnOption {
	return func(c *Column) {
		c.AutoIncrement = true
	}
}

// Unique asks for a unique secondary index.
func Unique() ColumnOption {
	return func(c *Column) {
		c.Unique = true
	}
}

// MultiEntry asks for a multi-entry secondary index, indexing each
// element of an array value separately.
func MultiEntry() ColumnOption {
	return func(c *Column) {
		c.MultiEntry = true
	}
}

// PrimaryKeyColumn returns a PrimaryKey column.
func PrimaryKeyColumn(opts ...ColumnOption) Column {
	return newColumn(PrimaryKey, opts)
}

// IndexColumn returns an Index column.
func IndexColumn(opts ...ColumnOption) Column {
	return newColumn(Index, opts)
}

// PlainColumn returns a Plain column.
func PlainColumn(opts ...ColumnOption) Column {
	return newColumn(Plain, opts)
}

func newColumn(k ColumnKind, opts []ColumnOption) Column {
	c := Column{Kind: k}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Validate checks that only the fields which belong to the c.Kind
// variant are set.
func (c Column) Validate() error {
	switch c.Kind {
	case PrimaryKey:
		if c.Unique || c.MultiEntry {
			return errors.New("primary key may not set unique/multi-entry")
		}
	case Index:
		if c.AutoIncrement {
			return errors.New("index may not be auto-incremented")
		}
	case Plain:
		switch {
		case len(c.KeyPath) != 0:
			return errors.New("plain column may not have a key path")
		case c.AutoIncrement || c.Unique || c.MultiEntry:
			return errors.New("plain column may not have key options")
		}
	default:
		return fmt.Errorf("unknown column kind: %d", uint8(c.Kind))
	}
	if int(c.Type) >= len(columnTypeNames) {
		return fmt.Errorf("unknown column type: %d", uint8(c.Type))
	}
	for _, p := range c.KeyPath {
		if p == "" {
			return errors.New("key path has an empty component")
		}
	}
	return nil
}

// Path returns the key path of c column, defaulting to the given
// column name when no explicit KeyPath was configured.
func (c Column) Path(name string) []string {
	if len(c.KeyPath) == 0 {
		return []string{name}
	}
	return c.KeyPath
}

// Equal reports whether c and o describe the same column.
func (c Column) Equal(o Column) bool {
	if c.Kind != o.Kind || c.Type != o.Type ||
		c.AutoIncrement != o.AutoIncrement ||
		c.Unique != o.Unique || c.MultiEntry != o.MultiEntry ||
		len(c.KeyPath) != len(o.KeyPath) {
		return false
	}
	for i := range c.KeyPath {
		if c.KeyPath[i] != o.KeyPath[i] {
			return false
		}
	}
	return true
}

// LogValue implements slog.LogValuer.
func (c Column) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("kind", c.Kind.String()),
		slog.String("type", c.Type.String()),
	}
	if len(c.KeyPath) != 0 {
		attrs = append(attrs, slog.String(
			"key-path", strings.Join(c.KeyPath, ","),
		))
	}
	switch c.Kind {
	case PrimaryKey:
		attrs = append(attrs, slog.Bool("auto-increment", c.AutoIncrement))
	case Index:
		attrs = append(attrs,
			slog.Bool("unique", c.Unique),
			slog.Bool("multi-entry", c.MultiEntry),
		)
	}
	return slog.GroupValue(attrs...)
}
