// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relational

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/repo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VersionScope begins a transaction, acquires the version-scope lock
// in it, and calls handler. The transaction is committed if handler
// returns nil and is rolled back if it returns an error or panics.
func (b *Backend) VersionScope(
	ctx context.Context, handler repo.ScopeHandler,
) (err error) {
	tx := b.db.WithContext(ctx).Begin()
	if err = tx.Error; err != nil {
		return fmt.Errorf("begin tx: %w", classify(err))
	}
	defer func() {
		if r := recover(); r != nil {
			err = tx.Rollback().Error
			if err == nil {
				err = fmt.Errorf("panicked: %v", r)
				return
			}
			err = fmt.Errorf("panicked: %v, rollback: %w", r, err)
			return
		}
		if err != nil {
			if err2 := tx.Rollback().Error; err2 != nil {
				err = fmt.Errorf("handler: %w, rollback: %w", err, err2)
				return
			}
			err = fmt.Errorf("handler: %w", err)
			return
		}
		err = tx.Commit().Error
		if err != nil {
			err = fmt.Errorf("commit: %w", classify(err))
		}
	}()
	if err = b.dialect.lock(ctx, tx, b.lockTimeout); err != nil {
		return err
	}
	return handler(ctx, &scope{tx: tx, dialect: b.dialect})
}

// scope is a repo.Scope which runs its statements in one transaction.
type scope struct {
	tx      *gorm.DB
	dialect Dialect
}

func (s *scope) db(ctx context.Context) *gorm.DB {
	return s.tx.WithContext(ctx)
}

// exec runs a DDL statement. Identifiers must be passed as clause.Table
// or clause.Column args, so they are quoted by the dialector.
func (s *scope) exec(ctx context.Context, sql string, args ...any) error {
	return classify(s.db(ctx).Exec(sql, args...).Error)
}

func indexName(store, column string) string {
	return store + "_" + column + "_idx"
}

// simplePath rejects the key paths which do not name the column itself
// since a table column may not address a nested attribute.
func simplePath(column string, path []string) error {
	if len(path) == 1 && path[0] == column {
		return nil
	}
	return cerr.SchemaContractf(
		"relational backends only support the %q key path, not %q",
		column, strings.Join(path, "."),
	)
}

// checkKey rejects the table of the version marker and the primary
// keys which do not name their own column.
func checkKey(store string, pk repo.Key) error {
	if store == configTable {
		return cerr.SchemaContractf("store name %q is reserved", store)
	}
	return simplePath(pk.Column, pk.KeyPath)
}

// CheckKey implements repo.KeyChecker.
func (b *Backend) CheckKey(store string, pk repo.Key) error {
	return checkKey(store, pk)
}

func (s *scope) StoreExists(ctx context.Context, store string) (bool, error) {
	return s.db(ctx).Migrator().HasTable(store), nil
}

func (s *scope) CreateStore(
	ctx context.Context, store string, pk repo.Key,
) error {
	if err := checkKey(store, pk); err != nil {
		return err
	}
	return s.exec(ctx,
		"CREATE TABLE ? (? "+s.dialect.primaryKeyType(
			pk.Type, pk.AutoIncrement,
		)+")",
		clause.Table{Name: store}, clause.Column{Name: pk.Column},
	)
}

func (s *scope) DropStore(ctx context.Context, store string) error {
	return s.exec(ctx, "DROP TABLE ?", clause.Table{Name: store})
}

// CreateIndex adds the indexed column and then creates its index.
// Existing rows get NULL values in the new column.
func (s *scope) CreateIndex(
	ctx context.Context, store string, idx repo.Index,
) error {
	if err := simplePath(idx.Column, idx.KeyPath); err != nil {
		return err
	}
	if idx.MultiEntry {
		return cerr.SchemaContractf(
			"relational backends do not support multi-entry indexes",
		)
	}
	err := s.AddColumn(ctx, store, repo.Field{
		Column: idx.Column, Type: idx.Type,
	})
	if err != nil {
		return fmt.Errorf("adding indexed column: %w", err)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return s.exec(ctx, "CREATE "+unique+"INDEX ? ON ? (?)",
		clause.Table{Name: indexName(store, idx.Column)},
		clause.Table{Name: store},
		clause.Column{Name: idx.Column},
	)
}

// DropIndex drops the index of column and then the column itself.
func (s *scope) DropIndex(ctx context.Context, store, column string) error {
	err := s.exec(ctx, "DROP INDEX ?",
		clause.Table{Name: indexName(store, column)},
	)
	if err != nil {
		return err
	}
	if err = s.DropColumn(ctx, store, column); err != nil {
		return fmt.Errorf("dropping indexed column: %w", err)
	}
	return nil
}

func (s *scope) AddColumn(
	ctx context.Context, store string, col repo.Field,
) error {
	return s.exec(ctx,
		"ALTER TABLE ? ADD COLUMN ? "+s.dialect.columnType(col.Type),
		clause.Table{Name: store}, clause.Column{Name: col.Column},
	)
}

func (s *scope) DropColumn(ctx context.Context, store, column string) error {
	return s.exec(ctx, "ALTER TABLE ? DROP COLUMN ?",
		clause.Table{Name: store}, clause.Column{Name: column},
	)
}

// Describe lists the columns and indexes of the store table.
// Indexes which were not created by CreateIndex are ignored.
func (s *scope) Describe(
	ctx context.Context, store string,
) (repo.Layout, error) {
	var l repo.Layout
	cts, err := s.db(ctx).Migrator().ColumnTypes(store)
	if err != nil {
		return l, fmt.Errorf("listing columns of %q: %w", store, err)
	}
	var names []string
	err = s.db(ctx).Raw(s.dialect.indexesQuery(), store).Scan(&names).Error
	if err != nil {
		return l, fmt.Errorf("listing indexes of %q: %w", store, err)
	}
	prefix := store + "_"
	for _, n := range names {
		c, ok := strings.CutPrefix(n, prefix)
		if !ok {
			continue
		}
		if c, ok = strings.CutSuffix(c, "_idx"); ok {
			l.Indexes = append(l.Indexes, c)
		}
	}
	slices.Sort(l.Indexes)
	for _, ct := range cts {
		if pk, ok := ct.PrimaryKey(); ok && pk {
			l.PrimaryKey = ct.Name()
			continue
		}
		if !slices.Contains(l.Indexes, ct.Name()) {
			l.Columns = append(l.Columns, ct.Name())
		}
	}
	slices.Sort(l.Columns)
	return l, nil
}

const (
	configTable = "_config"
	versionKey  = "version"
)

// configEntry is one row of the _config table.
type configEntry struct {
	Key   string `gorm:"column:key;primaryKey"`
	Value int64  `gorm:"column:value;not null"`
}

// TableName overrides the table name of configEntry for GORM.
func (configEntry) TableName() string {
	return configTable
}

func (s *scope) ReadVersion(ctx context.Context) (int, error) {
	db := s.db(ctx)
	if !db.Migrator().HasTable(&configEntry{}) {
		return 0, nil
	}
	var e configEntry
	err := db.Where(clause.Eq{
		Column: clause.Column{Name: "key"}, Value: versionKey,
	}).Take(&e).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return 0, nil
	case err != nil:
		return 0, classify(err)
	}
	return int(e.Value), nil
}

func (s *scope) WriteVersion(ctx context.Context, v int) error {
	db := s.db(ctx)
	if err := db.Migrator().AutoMigrate(&configEntry{}); err != nil {
		return fmt.Errorf("creating %s table: %w", configTable, classify(err))
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&configEntry{Key: versionKey, Value: int64(v)}).Error
	return classify(err)
}
