// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package chainfile loads a schema migration chain from a YAML
// document. The document has a root schema and an ordered list of
// migrations, for example:
//
//	root:
//	  version: 1
//	  stores:
//	    posts:
//	      id: {kind: primary-key, type: integer, auto-increment: true}
//	      body: {}
//	migrations:
//	  - version: 2
//	    added:
//	      posts:
//	        slug: {kind: index, unique: true}
//	  - version: 3
//	    removed:
//	      posts: [slug]
//
// Each migration is replayed on its predecessor using model.Migrate,
// so the loaded chain obeys all schema contract rules.
package chainfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/momeni/storemig/pkg/core/model"
	"gopkg.in/yaml.v3"
)

// Document is the YAML representation of a migration chain.
type Document struct {
	Root       Root        `yaml:"root"`
	Migrations []Migration `yaml:"migrations,omitempty"`
}

// Root describes the first schema of a chain.
type Root struct {
	Version int              `yaml:"version"`
	Stores  map[string]Store `yaml:"stores,omitempty"`
}

// Migration describes one step of a chain. Its From version is the
// version of its predecessor, so only the target Version is written.
type Migration struct {
	Version int                 `yaml:"version"`
	Removed map[string][]string `yaml:"removed,omitempty"`
	Added   map[string]Store    `yaml:"added,omitempty"`
}

// Store maps column names to their descriptions.
type Store map[string]Column

// Column is the YAML representation of model.Column.
type Column struct {
	Kind          model.ColumnKind `yaml:"kind,omitempty"`
	Type          model.ColumnType `yaml:"type,omitempty"`
	KeyPath       []string         `yaml:"key-path,omitempty"`
	AutoIncrement bool             `yaml:"auto-increment,omitempty"`
	Unique        bool             `yaml:"unique,omitempty"`
	MultiEntry    bool             `yaml:"multi-entry,omitempty"`
}

func (c Column) model() model.Column {
	return model.Column{
		Kind:          c.Kind,
		Type:          c.Type,
		KeyPath:       c.KeyPath,
		AutoIncrement: c.AutoIncrement,
		Unique:        c.Unique,
		MultiEntry:    c.MultiEntry,
	}
}

func stores(ss map[string]Store) model.ObjectStores {
	if ss == nil {
		return nil
	}
	oss := make(model.ObjectStores, len(ss))
	for sn, s := range ss {
		os := make(model.ObjectStore, len(s))
		for cn, c := range s {
			os[cn] = c.model()
		}
		oss[sn] = os
	}
	return oss
}

// Load reads the path chain file and returns its head schema.
func Load(path string) (*model.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening chain file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Parse decodes data as a chain document and returns its head schema.
func Parse(data []byte) (*model.Schema, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads one chain document from r and returns its head schema.
// Unknown fields are rejected.
func Decode(r io.Reader) (*model.Schema, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	doc := &Document{}
	if err := dec.Decode(doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty chain document")
		}
		return nil, fmt.Errorf("decoding chain document: %w", err)
	}
	return doc.Build()
}

// Build replays the doc migrations on its root schema and returns the
// head schema.
func (doc *Document) Build() (*model.Schema, error) {
	s, err := model.NewSchema(doc.Root.Version, stores(doc.Root.Stores))
	if err != nil {
		return nil, fmt.Errorf("root schema: %w", err)
	}
	for i, m := range doc.Migrations {
		s, err = s.Migrate(
			m.Version, model.Removals(m.Removed), stores(m.Added),
		)
		if err != nil {
			return nil, fmt.Errorf("migration #%d: %w", i+1, err)
		}
	}
	return s, nil
}
