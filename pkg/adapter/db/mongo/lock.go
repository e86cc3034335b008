// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const lockKey = "lock"

// pollInterval is the delay between two lease acquisition attempts.
const pollInterval = 100 * time.Millisecond

// acquire takes the lease document for the owner and returns a function
// which releases it. If the lease is held by another owner for longer
// than the lock timeout, a ConcurrentAccess error is returned.
func (b *Backend) acquire(ctx context.Context, owner string) (func(), error) {
	coll := b.db.Collection(configCollection)
	deadline := time.Now().Add(b.lockTimeout)
	for {
		now := time.Now()
		// matches an expired lease or no document at all, so the upsert
		// violates the unique key index while a valid lease is held
		_, err := coll.UpdateOne(ctx,
			bson.D{
				{Key: "key", Value: lockKey},
				{Key: "expires", Value: bson.D{{Key: "$lt", Value: now}}},
			},
			bson.D{{Key: "$set", Value: bson.D{
				{Key: "owner", Value: owner},
				{Key: "expires", Value: now.Add(b.lease)},
			}}},
			options.Update().SetUpsert(true),
		)
		if err == nil {
			break
		}
		if !mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("taking lease: %w", err)
		}
		if now.After(deadline) {
			return nil, cerr.ConcurrentAccessError(errors.New(
				"version-scope lease is held by another process",
			))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return func() {
		_, err := coll.DeleteOne(context.Background(), bson.D{
			{Key: "key", Value: lockKey},
			{Key: "owner", Value: owner},
		})
		if err != nil {
			log.Warn(context.Background(), "releasing lease failed",
				log.Err("err", err),
			)
		}
	}, nil
}
