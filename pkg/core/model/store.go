// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model

import (
	"maps"
	"slices"
)

// ObjectStore maps column names to their Column descriptions.
// A complete object store (as kept in a Schema) has exactly one
// PrimaryKey column. A partial object store (as kept in the Added
// field of a Migration for an existing store) has none.
type ObjectStore map[string]Column

// PrimaryKey returns the name and description of the primary key
// column of os. The ok result is false if os has no primary key.
// If os has more than one primary key (which is rejected by the
// Migration validation), the alphabetically first one is returned.
func (os ObjectStore) PrimaryKey() (name string, c Column, ok bool) {
	for _, n := range os.Names() {
		if col := os[n]; col.Kind == PrimaryKey {
			return n, col, true
		}
	}
	return "", Column{}, false
}

// Names returns the column names of os in ascending order.
func (os ObjectStore) Names() []string {
	return slices.Sorted(maps.Keys(os))
}

// Clone returns a shallow copy of os. Column values are copied, but
// their KeyPath slices are shared since they are never modified.
func (os ObjectStore) Clone() ObjectStore {
	if os == nil {
		return nil
	}
	return maps.Clone(os)
}

// Equal reports whether os and o have the same columns.
func (os ObjectStore) Equal(o ObjectStore) bool {
	return maps.EqualFunc(os, o, Column.Equal)
}

// ObjectStores maps object store names to their ObjectStore contents.
type ObjectStores map[string]ObjectStore

// Names returns the object store names of oss in ascending order.
func (oss ObjectStores) Names() []string {
	return slices.Sorted(maps.Keys(oss))
}

// Clone returns a deep copy of oss.
func (oss ObjectStores) Clone() ObjectStores {
	c := make(ObjectStores, len(oss))
	for n, os := range oss {
		c[n] = os.Clone()
	}
	return c
}

// Equal reports whether oss and o have the same stores and columns.
func (oss ObjectStores) Equal(o ObjectStores) bool {
	return maps.EqualFunc(oss, o, ObjectStore.Equal)
}

// Removals maps object store names to the names of their columns which
// should be removed. Repeated column names are ignored.
type Removals map[string][]string

// Contains reports whether the column of the store is listed in r.
func (r Removals) Contains(store, column string) bool {
	return slices.Contains(r[store], column)
}

// Names returns the store names of r in ascending order.
func (r Removals) Names() []string {
	return slices.Sorted(maps.Keys(r))
}

// Columns returns the sorted and deduplicated column names of the
// given store as listed in r.
func (r Removals) Columns(store string) []string {
	return slices.Compact(slices.Sorted(slices.Values(r[store])))
}

// Clone returns a deep copy of r.
func (r Removals) Clone() Removals {
	c := make(Removals, len(r))
	for n, cols := range r {
		c[n] = slices.Clone(cols)
	}
	return c
}

// RemoveColumns returns a copy of oss without the columns which are
// listed in removed. Stores which are not mentioned in removed are
// passed through unchanged. A store which loses its primary key column
// or all of its columns is omitted from the result entirely, because
// the physical store is dropped in that case.
// Neither oss nor removed are modified.
func RemoveColumns(oss ObjectStores, removed Removals) ObjectStores {
	res := make(ObjectStores, len(oss))
	for n, os := range oss {
		cols, ok := removed[n]
		if !ok || len(cols) == 0 {
			res[n] = os
			continue
		}
		kept := make(ObjectStore, len(os))
		dropStore := false
		for cn, c := range os {
			if !slices.Contains(cols, cn) {
				kept[cn] = c
			} else if c.Kind == PrimaryKey {
				dropStore = true
			}
		}
		if dropStore || len(kept) == 0 {
			continue
		}
		res[n] = kept
	}
	return res
}

// MergeColumns returns the union of oss and added. Stores are united
// by their names and columns of a store which is present in both
// arguments are united by their names too. The added columns win on
// conflicting names, although a valid Migration never causes such a
// conflict. Neither oss nor added are modified.
func MergeColumns(oss, added ObjectStores) ObjectStores {
	res := make(ObjectStores, len(oss)+len(added))
	for n, os := range oss {
		res[n] = os
	}
	for n, os := range added {
		merged := make(ObjectStore, len(res[n])+len(os))
		maps.Copy(merged, res[n])
		maps.Copy(merged, os)
		res[n] = merged
	}
	return res
}
