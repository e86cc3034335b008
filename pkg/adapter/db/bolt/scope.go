// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/log"
	"github.com/momeni/storemig/pkg/core/repo"
	bbolt "go.etcd.io/bbolt"
)

var (
	configBucket  = []byte("_config")
	versionKey    = []byte("version")
	metaKey       = []byte("_meta")
	indexesBucket = []byte("_indexes")
	recordsBucket = []byte("_records")
)

// storeMeta is the JSON document which describes a store bucket.
type storeMeta struct {
	Key     repo.Key              `json:"key"`
	Indexes map[string]repo.Index `json:"indexes"`
}

type scope struct {
	tx *bbolt.Tx
}

func (s *scope) ReadVersion(ctx context.Context) (int, error) {
	bkt := s.tx.Bucket(configBucket)
	if bkt == nil {
		return 0, nil
	}
	v := bkt.Get(versionKey)
	if v == nil {
		return 0, nil
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("malformed version marker: %x", v)
	}
	return int(binary.BigEndian.Uint64(v)), nil
}

func (s *scope) WriteVersion(ctx context.Context, v int) error {
	bkt, err := s.tx.CreateBucketIfNotExists(configBucket)
	if err != nil {
		return fmt.Errorf("creating %s bucket: %w", configBucket, err)
	}
	return bkt.Put(versionKey, binary.BigEndian.AppendUint64(nil, uint64(v)))
}

func (s *scope) StoreExists(ctx context.Context, store string) (bool, error) {
	return s.tx.Bucket([]byte(store)) != nil, nil
}

// checkKey rejects the store names which start with "_" since they
// would collide with the buckets of this package.
func checkKey(store string, _ repo.Key) error {
	if strings.HasPrefix(store, "_") {
		return cerr.SchemaContractf("store name %q is reserved", store)
	}
	return nil
}

// CheckKey implements repo.KeyChecker.
func (b *Backend) CheckKey(store string, pk repo.Key) error {
	return checkKey(store, pk)
}

func (s *scope) CreateStore(
	ctx context.Context, store string, pk repo.Key,
) error {
	if err := checkKey(store, pk); err != nil {
		return err
	}
	bkt, err := s.tx.CreateBucket([]byte(store))
	if err != nil {
		return fmt.Errorf("creating %q bucket: %w", store, err)
	}
	if _, err = bkt.CreateBucket(recordsBucket); err != nil {
		return err
	}
	if _, err = bkt.CreateBucket(indexesBucket); err != nil {
		return err
	}
	return putMeta(bkt, &storeMeta{
		Key: pk, Indexes: make(map[string]repo.Index),
	})
}

func (s *scope) DropStore(ctx context.Context, store string) error {
	return s.tx.DeleteBucket([]byte(store))
}

func (s *scope) store(name string) (*bbolt.Bucket, *storeMeta, error) {
	bkt := s.tx.Bucket([]byte(name))
	if bkt == nil {
		return nil, nil, fmt.Errorf("store %q does not exist", name)
	}
	m := &storeMeta{}
	if err := json.Unmarshal(bkt.Get(metaKey), m); err != nil {
		return nil, nil, fmt.Errorf("decoding %q metadata: %w", name, err)
	}
	if m.Indexes == nil {
		m.Indexes = make(map[string]repo.Index)
	}
	return bkt, m, nil
}

func putMeta(bkt *bbolt.Bucket, m *storeMeta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding store metadata: %w", err)
	}
	return bkt.Put(metaKey, b)
}

// CreateIndex registers idx and creates its empty entries bucket.
// Existing records are not indexed.
func (s *scope) CreateIndex(
	ctx context.Context, store string, idx repo.Index,
) error {
	bkt, m, err := s.store(store)
	if err != nil {
		return err
	}
	if _, ok := m.Indexes[idx.Column]; ok {
		return fmt.Errorf("index %q already exists", idx.Column)
	}
	if _, err = bkt.Bucket(indexesBucket).CreateBucket(
		[]byte(idx.Column),
	); err != nil {
		return fmt.Errorf("creating index bucket: %w", err)
	}
	m.Indexes[idx.Column] = idx
	return putMeta(bkt, m)
}

// DropIndex drops the idx entries, keeping the records intact.
func (s *scope) DropIndex(ctx context.Context, store, column string) error {
	bkt, m, err := s.store(store)
	if err != nil {
		return err
	}
	if _, ok := m.Indexes[column]; !ok {
		return fmt.Errorf("index %q does not exist", column)
	}
	if err = bkt.Bucket(indexesBucket).DeleteBucket(
		[]byte(column),
	); err != nil {
		return fmt.Errorf("deleting index bucket: %w", err)
	}
	delete(m.Indexes, column)
	return putMeta(bkt, m)
}

// AddColumn is a no-op since records are schemaless values.
func (s *scope) AddColumn(
	ctx context.Context, store string, col repo.Field,
) error {
	log.Debug(ctx, "plain column needs no change in key-value stores",
		log.Store(store), log.Column(col.Column),
	)
	return nil
}

// DropColumn is a no-op since records are schemaless values.
func (s *scope) DropColumn(ctx context.Context, store, column string) error {
	log.Debug(ctx, "plain column needs no change in key-value stores",
		log.Store(store), log.Column(column),
	)
	return nil
}

func (s *scope) Describe(
	ctx context.Context, store string,
) (repo.Layout, error) {
	_, m, err := s.store(store)
	if err != nil {
		return repo.Layout{}, err
	}
	return repo.Layout{
		PrimaryKey: m.Key.Column,
		Indexes:    slices.Sorted(maps.Keys(m.Indexes)),
		Schemaless: true,
	}, nil
}
