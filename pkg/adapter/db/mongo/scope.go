// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mongo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/log"
	"github.com/momeni/storemig/pkg/core/repo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const versionKey = "version"

type scope struct {
	db *mongo.Database
}

type configDoc struct {
	Key   string `bson:"key"`
	Value int64  `bson:"value"`
}

func (s *scope) ReadVersion(ctx context.Context) (int, error) {
	var d configDoc
	err := s.db.Collection(configCollection).FindOne(ctx,
		bson.D{{Key: "key", Value: versionKey}},
	).Decode(&d)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return 0, nil
	case err != nil:
		return 0, err
	}
	return int(d.Value), nil
}

func (s *scope) WriteVersion(ctx context.Context, v int) error {
	_, err := s.db.Collection(configCollection).UpdateOne(ctx,
		bson.D{{Key: "key", Value: versionKey}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "value", Value: int64(v)},
		}}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *scope) StoreExists(ctx context.Context, store string) (bool, error) {
	names, err := s.db.ListCollectionNames(ctx,
		bson.D{{Key: "name", Value: store}},
	)
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

func pkIndexName(column string) string {
	return column + "_pk"
}

func indexName(column string) string {
	return column + "_idx"
}

// checkKey rejects the reserved store name and the autoincrement
// primary keys which MongoDB can not generate.
func checkKey(store string, pk repo.Key) error {
	if store == configCollection {
		return cerr.SchemaContractf("store name %q is reserved", store)
	}
	if pk.AutoIncrement && pk.Column != "_id" {
		return cerr.SchemaContractf(
			"mongodb only supports autoincrement primary keys named _id",
		)
	}
	return nil
}

// CheckKey implements repo.KeyChecker.
func (b *Backend) CheckKey(store string, pk repo.Key) error {
	return checkKey(store, pk)
}

// CreateStore creates a collection. Auto-incremented primary keys are
// supported only for the _id field which is generated by the drivers,
// while other primary keys are enforced by a unique index.
func (s *scope) CreateStore(
	ctx context.Context, store string, pk repo.Key,
) error {
	if err := checkKey(store, pk); err != nil {
		return err
	}
	if err := s.db.CreateCollection(ctx, store); err != nil {
		return fmt.Errorf("creating %q collection: %w", store, err)
	}
	if pk.Column == "_id" {
		return nil
	}
	_, err := s.db.Collection(store).Indexes().CreateOne(ctx,
		mongo.IndexModel{
			Keys: bson.D{{Key: strings.Join(pk.KeyPath, "."), Value: 1}},
			Options: options.Index().
				SetUnique(true).SetName(pkIndexName(pk.Column)),
		},
	)
	return err
}

func (s *scope) DropStore(ctx context.Context, store string) error {
	return s.db.Collection(store).Drop(ctx)
}

// CreateIndex creates an index on the key path of idx. Documents with
// array values are indexed per array element by MongoDB itself, so the
// MultiEntry flag needs no extra option.
func (s *scope) CreateIndex(
	ctx context.Context, store string, idx repo.Index,
) error {
	log.Warn(ctx, "existing documents are not back-filled, "+
		"queries on the new index may miss them",
		log.Store(store), log.Column(idx.Column),
	)
	_, err := s.db.Collection(store).Indexes().CreateOne(ctx,
		mongo.IndexModel{
			Keys: bson.D{{Key: strings.Join(idx.KeyPath, "."), Value: 1}},
			Options: options.Index().
				SetUnique(idx.Unique).SetName(indexName(idx.Column)),
		},
	)
	return err
}

// DropIndex drops the index of column, keeping the document fields.
func (s *scope) DropIndex(ctx context.Context, store, column string) error {
	_, err := s.db.Collection(store).Indexes().DropOne(ctx, indexName(column))
	return err
}

// AddColumn is a no-op since documents are schemaless.
func (s *scope) AddColumn(
	ctx context.Context, store string, col repo.Field,
) error {
	log.Debug(ctx, "plain field needs no change in document stores",
		log.Store(store), log.Column(col.Column),
	)
	return nil
}

// DropColumn is a no-op since documents are schemaless. The fields of
// existing documents are kept.
func (s *scope) DropColumn(ctx context.Context, store, column string) error {
	log.Debug(ctx, "plain field needs no change in document stores",
		log.Store(store), log.Column(column),
	)
	return nil
}

// Describe lists the indexes of the store collection. A collection
// without a "<column>_pk" index is keyed by its _id field.
func (s *scope) Describe(
	ctx context.Context, store string,
) (repo.Layout, error) {
	l := repo.Layout{PrimaryKey: "_id", Schemaless: true}
	cur, err := s.db.Collection(store).Indexes().List(ctx)
	if err != nil {
		return l, fmt.Errorf("listing indexes of %q: %w", store, err)
	}
	var specs []struct {
		Name string `bson:"name"`
	}
	if err = cur.All(ctx, &specs); err != nil {
		return l, fmt.Errorf("decoding indexes of %q: %w", store, err)
	}
	for _, spec := range specs {
		if c, ok := strings.CutSuffix(spec.Name, "_pk"); ok {
			l.PrimaryKey = c
		} else if c, ok := strings.CutSuffix(spec.Name, "_idx"); ok {
			l.Indexes = append(l.Indexes, c)
		}
	}
	slices.Sort(l.Indexes)
	return l, nil
}
