// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mongo provides a document repo.Backend for MongoDB. Object
// stores are reified as collections, primary keys and indexes as
// named indexes ("<column>_pk" and "<column>_idx"), and the version
// marker as the {key: "version"} document of the _config collection.
//
// MongoDB does not support collection and index drops in multi-document
// transactions, so the structural operations of a version-scope are
// executed immediately and are not undone when the scope is aborted.
// An aborted scope only keeps the version marker unchanged, hence, the
// failed migration run may be retried after fixing its cause.
// Version-scopes are serialized across processes by a lease document
// ({key: "lock"}) in the _config collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/momeni/storemig/pkg/core/log"
	"github.com/momeni/storemig/pkg/core/repo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const configCollection = "_config"

// Backend is a document repo.Backend which wraps a *mongo.Database.
type Backend struct {
	client *mongo.Client
	db     *mongo.Database

	lockTimeout time.Duration
	lease       time.Duration
}

// Option is a functional option for the Open function.
type Option func(b *Backend) error

// WithLockTimeout sets the amount of time which VersionScope waits for
// the lease document. It defaults to the repo.LockTimeout value.
func WithLockTimeout(d time.Duration) Option {
	return func(b *Backend) error {
		if d <= 0 {
			return fmt.Errorf("lock timeout (%v) is not positive", d)
		}
		b.lockTimeout = d
		return nil
	}
}

// WithLease sets the lifetime of the lease document. A lease which is
// not released (e.g., because its process crashed) may be taken by
// other processes after it expires. It defaults to five minutes.
func WithLease(d time.Duration) Option {
	return func(b *Backend) error {
		if d <= 0 {
			return fmt.Errorf("lease (%v) is not positive", d)
		}
		b.lease = d
		return nil
	}
}

// Open connects to the uri MongoDB deployment, pings it, and prepares
// the _config collection of the database named database.
func Open(
	ctx context.Context, uri, database string, opts ...Option,
) (*Backend, error) {
	b := &Backend{lockTimeout: repo.LockTimeout, lease: 5 * time.Minute}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}
	if database == "" {
		return nil, errors.New("database name is empty")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect: %w", err)
	}
	b.client, b.db = client, client.Database(database)
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("testing connection: %w", err)
	}
	_, err = b.db.Collection(configCollection).Indexes().CreateOne(ctx,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("key_pk"),
		},
	)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("preparing %s collection: %w",
			configCollection, err,
		)
	}
	return b, nil
}

// Kind returns "mongo".
func (b *Backend) Kind() string {
	return "mongo"
}

// Database returns the wrapped database.
func (b *Backend) Database() *mongo.Database {
	return b.db
}

// Close disconnects from the MongoDB deployment.
func (b *Backend) Close() error {
	return b.client.Disconnect(context.Background())
}

// VersionScope takes the lease document, calls handler, and releases
// the lease. See the package documentation for its atomicity level.
func (b *Backend) VersionScope(
	ctx context.Context, handler repo.ScopeHandler,
) (err error) {
	release, err := b.acquire(ctx, uuid.NewString())
	if err != nil {
		return err
	}
	defer release()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panicked: %v", r)
		}
		if err != nil {
			log.Warn(ctx, "aborting version-scope, "+
				"executed structural operations are kept",
				log.Err("err", err),
			)
		}
	}()
	return handler(ctx, &scope{db: b.db})
}
