// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mongo_test

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momeni/storemig/internal/test/schema"
	"github.com/momeni/storemig/pkg/adapter/db/mongo"
	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/model"
	"github.com/momeni/storemig/pkg/core/repo"
	"github.com/momeni/storemig/pkg/core/usecase/migrationuc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dbSeq atomic.Int64

// openMongo connects to a fresh database of the MONGODB_URI deployment
// and drops it when t finishes. Tests are skipped if MONGODB_URI is not
// set.
func openMongo(t *testing.T, opts ...mongo.Option) *mongo.Backend {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI is not set, skipping mongodb tests")
	}
	ctx := context.Background()
	name := fmt.Sprintf("storemig_test_%d_%d", os.Getpid(), dbSeq.Add(1))
	b, err := mongo.Open(ctx, uri, name, opts...)
	require.NoError(t, err, "connecting to %q", uri)
	t.Cleanup(func() {
		assert.NoError(t, b.Database().Drop(ctx), "dropping %q", name)
		assert.NoError(t, b.Close(), "disconnecting")
	})
	return b
}

func TestMongoConformance(t *testing.T) {
	schema.Conformance(t, func(t *testing.T) repo.Backend {
		return openMongo(t)
	}, schema.KeepsDDLOnAbort())
}

func TestMongoAutoIncrementMustBeNamedID(t *testing.T) {
	ctx := context.Background()
	b := openMongo(t)
	v1 := model.MustNewSchema(1, nil)
	bad := v1.MustMigrate(2, nil, model.ObjectStores{
		"posts": {"id": model.PrimaryKeyColumn(model.AutoIncrementing())},
	})
	uc, err := migrationuc.New(b, bad)
	require.NoError(t, err)
	_, err = uc.Apply(ctx)
	assert.ErrorIs(t, err, cerr.ErrSchemaContract)
	assert.ErrorContains(t, err,
		"mongodb only supports autoincrement primary keys named _id",
	)

	good := v1.MustMigrate(2, nil, model.ObjectStores{
		"posts": {"_id": model.PrimaryKeyColumn(model.AutoIncrementing())},
	})
	uc, err = migrationuc.New(b, good)
	require.NoError(t, err)
	_, err = uc.Apply(ctx)
	require.NoError(t, err)
	schema.NewVerifier(b).VerifySchema(ctx, t, good)
}

func TestMongoCheckKey(t *testing.T) {
	var b mongo.Backend
	autoID := repo.Key{Column: "_id", KeyPath: []string{"_id"}, AutoIncrement: true}
	autoOther := repo.Key{Column: "id", KeyPath: []string{"id"}, AutoIncrement: true}
	plain := repo.Key{Column: "id", KeyPath: []string{"id"}}
	assert.NoError(t, b.CheckKey("posts", autoID))
	assert.NoError(t, b.CheckKey("posts", plain))
	assert.ErrorIs(t, b.CheckKey("posts", autoOther), cerr.ErrSchemaContract)
	assert.ErrorIs(t, b.CheckKey("_config", plain), cerr.ErrSchemaContract)
}

func TestMongoUnsupportedKeyLeavesEarlierStoresAlone(t *testing.T) {
	ctx := context.Background()
	b := openMongo(t)
	_, v2, _ := schema.UsersChain()
	v3 := v2.MustMigrate(3, nil, model.ObjectStores{
		"posts": {"id": model.PrimaryKeyColumn(model.AutoIncrementing())},
	})
	uc, err := migrationuc.New(b, v3)
	require.NoError(t, err)
	_, err = uc.Apply(ctx)
	require.ErrorIs(t, err, cerr.ErrSchemaContract)
	v := schema.NewVerifier(b)
	assert.Zero(t, v.Version(ctx, t))
	v.VerifyAbsent(ctx, t, "users", "posts")
}

func TestMongoHeldLeaseIsConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	b := openMongo(t, mongo.WithLockTimeout(200*time.Millisecond))
	err := b.VersionScope(ctx, func(ctx context.Context, _ repo.Scope) error {
		return b.VersionScope(ctx, func(context.Context, repo.Scope) error {
			t.Error("second scope must not be acquired")
			return nil
		})
	})
	assert.ErrorIs(t, err, cerr.ErrConcurrentAccess)

	err = b.VersionScope(ctx, func(context.Context, repo.Scope) error {
		return nil
	})
	assert.NoError(t, err, "released lease must be taken again")
}
