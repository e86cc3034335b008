// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package schema

import (
	"context"
	"testing"

	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/model"
	"github.com/momeni/storemig/pkg/core/repo"
	"github.com/momeni/storemig/pkg/core/usecase/migrationuc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// UsersChain returns the v1 (empty), v2 (adds users keyed by name with
// a password column), and v3 (replaces password by nickname) schemas.
func UsersChain() (v1, v2, v3 *model.Schema) {
	v1 = model.MustNewSchema(1, nil)
	v2 = v1.MustMigrate(2, nil, model.ObjectStores{
		"users": {
			"name":     model.PrimaryKeyColumn(),
			"password": model.PlainColumn(),
		},
	})
	v3 = v2.MustMigrate(3, model.Removals{"users": {"password"}},
		model.ObjectStores{"users": {"nickname": model.PlainColumn()}},
	)
	return v1, v2, v3
}

// PostsChain returns a chain whose root schema declares the posts store
// (so it is bootstrapped on empty databases), its v2 adds a unique index
// and v3 drops that index again.
func PostsChain() (v1, v2, v3 *model.Schema) {
	v1 = model.MustNewSchema(1, model.ObjectStores{
		"posts": {
			"id":   model.PrimaryKeyColumn(model.WithType(model.Integer)),
			"body": model.PlainColumn(),
		},
	})
	v2 = v1.MustMigrate(2, nil, model.ObjectStores{
		"posts": {"slug": model.IndexColumn(model.Unique())},
	})
	v3 = v2.MustMigrate(3, model.Removals{"posts": {"slug"}}, nil)
	return v1, v2, v3
}

type conformance struct {
	keepsDDLOnAbort bool
}

// Option is a functional option for the Conformance function.
type Option func(c *conformance)

// KeepsDDLOnAbort option declares that the tested backend executes its
// structural operations outside of a transaction, so an aborted scope
// only keeps its version marker unchanged.
func KeepsDDLOnAbort() Option {
	return func(c *conformance) {
		c.keepsDDLOnAbort = true
	}
}

// Conformance runs the migration scenarios against fresh backends
// which are created by calling open. The open function must return an
// empty database and arrange for its cleanup.
func Conformance(
	t *testing.T, open func(t *testing.T) repo.Backend, opts ...Option,
) {
	c := &conformance{}
	for _, opt := range opts {
		opt(c)
	}
	ctx := context.Background()
	apply := func(t *testing.T, b repo.Backend, head *model.Schema) (
		*migrationuc.Plan, error,
	) {
		t.Helper()
		uc, err := migrationuc.New(b, head)
		require.NoError(t, err, "creating migration use case")
		return uc.Apply(ctx)
	}

	t.Run("empty database reports version zero", func(t *testing.T) {
		b := open(t)
		assert.Zero(t, NewVerifier(b).Version(ctx, t))
	})

	t.Run("scenario A then B", func(t *testing.T) {
		b := open(t)
		v := NewVerifier(b)
		_, v2, v3 := UsersChain()
		p, err := apply(t, b, v2)
		require.NoError(t, err)
		assert.Equal(t, []string{"1->2"}, p.Labels())
		v.VerifySchema(ctx, t, v2)

		p, err = apply(t, b, v3)
		require.NoError(t, err)
		assert.Equal(t, []string{"2->3"}, p.Labels())
		v.VerifySchema(ctx, t, v3)

		p, err = apply(t, b, v3)
		require.NoError(t, err)
		assert.Empty(t, p.Migrations, "re-apply must be a no-op")
		v.VerifySchema(ctx, t, v3)
	})

	t.Run("bootstrap and indexes", func(t *testing.T) {
		b := open(t)
		v := NewVerifier(b)
		_, v2, v3 := PostsChain()
		p, err := apply(t, b, v2)
		require.NoError(t, err)
		assert.Equal(t, []string{"0->1", "1->2"}, p.Labels())
		v.VerifySchema(ctx, t, v2)

		_, err = apply(t, b, v3)
		require.NoError(t, err)
		v.VerifySchema(ctx, t, v3)
	})

	t.Run("primary key removal recreates the store", func(t *testing.T) {
		b := open(t)
		_, v2, _ := UsersChain()
		v3 := v2.MustMigrate(3, model.Removals{"users": {"name"}},
			model.ObjectStores{"users": {"email": model.PrimaryKeyColumn()}},
		)
		_, err := apply(t, b, v3)
		require.NoError(t, err)
		NewVerifier(b).VerifySchema(ctx, t, v3)
	})

	t.Run("failure rolls back the whole run", func(t *testing.T) {
		b := open(t)
		v := NewVerifier(b)
		posts1, _, _ := PostsChain()
		_, err := apply(t, b, posts1)
		require.NoError(t, err, "bootstrapping posts")

		_, v2, _ := UsersChain()
		v3 := v2.MustMigrate(3, nil, model.ObjectStores{
			"posts": {"id": model.PrimaryKeyColumn()},
		})
		_, err = apply(t, b, v3)
		require.ErrorIs(t, err, cerr.ErrStructuralInconsistency)
		assert.Equal(t, 1, v.Version(ctx, t))
		if c.keepsDDLOnAbort {
			v.VerifySchema(ctx, t, posts1)
			return
		}
		v.VerifySchema(ctx, t, posts1, "users")
	})

	t.Run("newer database version is rejected", func(t *testing.T) {
		b := open(t)
		_, _, v3 := UsersChain()
		_, err := apply(t, b, v3)
		require.NoError(t, err)
		_, v2, _ := UsersChain()
		_, err = apply(t, b, v2)
		assert.ErrorIs(t, err, cerr.ErrChainIntegrity)
	})
}
