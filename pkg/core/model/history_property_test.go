// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package model_test

import (
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/model"
)

// randomChain deterministically builds a valid schema chain with n
// migrations from the given seed. Versions may have gaps, so some
// integers between the root and head versions are not in the chain.
func randomChain(seed int64, n int) *model.Schema {
	r := rand.New(rand.NewSource(seed))
	s := model.MustNewSchema(1+r.Intn(3), nil)
	for i := 0; i < n; i++ {
		removed := model.Removals{}
		for _, sn := range s.Stores.Names() {
			os := s.Stores[sn]
			switch r.Intn(4) {
			case 0:
				pk, _, _ := os.PrimaryKey()
				removed[sn] = []string{pk}
			case 1:
				for _, cn := range os.Names() {
					if os[cn].Kind != model.PrimaryKey {
						removed[sn] = []string{cn}
						break
					}
				}
			}
		}
		added := model.ObjectStores{}
		if r.Intn(2) == 0 {
			added[fmt.Sprintf("s%d", i)] = model.ObjectStore{
				"id": model.PrimaryKeyColumn(),
				"v":  model.PlainColumn(model.WithType(model.Integer)),
			}
		}
		kept := model.RemoveColumns(s.Stores, removed)
		for _, sn := range kept.Names() {
			if r.Intn(2) == 0 {
				added[sn] = model.ObjectStore{
					fmt.Sprintf("c%d", i): model.IndexColumn(),
				}
			}
		}
		s = s.MustMigrate(s.Version+1+r.Intn(3), removed, added)
	}
	return s
}

func TestProperty_OutstandingMigrations(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("resolution is deterministic and ascending", prop.ForAll(
		func(seed int64, n int) bool {
			head := randomChain(seed, n)
			h, err := model.NewHistory(head)
			if err != nil {
				return false
			}
			for _, v := range h.Versions() {
				ms1, err1 := model.OutstandingMigrations(head, v)
				ms2, err2 := model.OutstandingMigrations(head, v)
				if err1 != nil || err2 != nil || !slices.Equal(ms1, ms2) {
					return false
				}
				if !slices.IsSortedFunc(ms1, func(a, b *model.Migration) int {
					return a.From - b.From
				}) {
					return false
				}
				if len(ms1) > 0 && (ms1[0].From != v ||
					ms1[len(ms1)-1].To != head.Version) {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(0, 8),
	))

	properties.Property("applying outstanding migrations reaches the head", prop.ForAll(
		func(seed int64, n int) bool {
			head := randomChain(seed, n)
			h, err := model.NewHistory(head)
			if err != nil {
				return false
			}
			for _, v := range h.Versions() {
				ms, err := h.Outstanding(v)
				if err != nil {
					return false
				}
				s, _ := h.SchemaAt(v)
				if !applyAll(s.Stores, ms).Equal(head.Stores) {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(0, 8),
	))

	properties.Property("unknown versions fail with chain integrity errors", prop.ForAll(
		func(seed int64, n int) bool {
			head := randomChain(seed, n)
			h, err := model.NewHistory(head)
			if err != nil {
				return false
			}
			known := h.Versions()
			for v := 1; v <= head.Version+2; v++ {
				if slices.Contains(known, v) {
					continue
				}
				_, err := h.Outstanding(v)
				if !errors.Is(err, cerr.ErrChainIntegrity) {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}
