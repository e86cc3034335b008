// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package migrationuc

import (
	"context"
	"log/slog"
	"time"

	"github.com/momeni/storemig/pkg/core/cerr"
	"github.com/momeni/storemig/pkg/core/log"
	"github.com/momeni/storemig/pkg/core/model"
	"github.com/momeni/storemig/pkg/core/repo"
)

// attrs prepends the run and backend attributes to the given attrs.
func (uc *UseCase) attrs(attrs ...slog.Attr) []slog.Attr {
	return append([]slog.Attr{
		slog.String("run", uc.runID),
		slog.String("backend", uc.backend.Kind()),
	}, attrs...)
}

func (uc *UseCase) info(ctx context.Context, msg string, attrs ...slog.Attr) {
	log.Info(ctx, msg, uc.attrs(attrs...)...)
}

// do runs the f backend operation, reports its outcome to the observer
// and logs, and attaches the op coordinates to its possible error.
func (uc *UseCase) do(
	ctx context.Context, op cerr.Op, f func() error,
) error {
	start := time.Now()
	err := cerr.Wrap(f(), op)
	uc.observer.Observe(Event{
		RunID:     uc.runID,
		Backend:   uc.backend.Kind(),
		Migration: op.Migration,
		Action:    Action(op.Action),
		Store:     op.Store,
		Column:    op.Column,
		Err:       err,
		Duration:  time.Since(start),
	})
	attrs := uc.attrs(
		slog.String("action", op.Action),
		log.Migration(op.Migration),
		log.Store(op.Store),
		log.Column(op.Column),
	)
	if err != nil {
		log.Warn(ctx, "backend operation failed",
			append(attrs, log.Err("err", err))...,
		)
		return err
	}
	log.Debug(ctx, "backend operation done", attrs...)
	return nil
}

func (uc *UseCase) readVersion(
	ctx context.Context, s repo.Scope,
) (v int, err error) {
	op := cerr.Op{Action: string(ActionReadVersion)}
	err = uc.do(ctx, op, func() (err error) {
		v, err = s.ReadVersion(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, cerr.StructuralInconsistencyf(
			"negative version marker: %d", v,
		).At(op)
	}
	return v, nil
}

func (uc *UseCase) writeVersion(
	ctx context.Context, s repo.Scope, v int,
) error {
	op := cerr.Op{Action: string(ActionWriteVersion)}
	return uc.do(ctx, op, func() error {
		return s.WriteVersion(ctx, v)
	})
}

// applyMigration performs the removals of m and then its additions.
// Stores and columns are visited in the lexicographical order of their
// names, so the emitted operations are reproducible.
func (uc *UseCase) applyMigration(
	ctx context.Context, s repo.Scope, m *model.Migration,
) error {
	label := m.Label()
	uc.info(ctx, "applying migration", log.Valuer("migration", m))
	start := time.Now()
	err := uc.removeColumns(ctx, s, m, label)
	if err == nil {
		err = uc.addColumns(ctx, s, m, label)
	}
	uc.observer.Observe(Event{
		RunID:     uc.runID,
		Backend:   uc.backend.Kind(),
		Migration: label,
		Action:    ActionApplyMigration,
		Err:       err,
		Duration:  time.Since(start),
	})
	return err
}

func primaryKey(name string, c model.Column) repo.Key {
	return repo.Key{
		Column:        name,
		KeyPath:       c.Path(name),
		Type:          c.Type,
		AutoIncrement: c.AutoIncrement,
	}
}

// checkKeys asks a repo.KeyChecker backend to verify the primary key
// of every store which the ms migrations create, so unsupported keys
// fail before the first structural operation.
func (uc *UseCase) checkKeys(ms []*model.Migration) error {
	kc, ok := uc.backend.(repo.KeyChecker)
	if !ok {
		return nil
	}
	for _, m := range ms {
		for _, sn := range m.Added.Names() {
			name, c, ok := m.Added[sn].PrimaryKey()
			if !ok {
				continue
			}
			if err := kc.CheckKey(sn, primaryKey(name, c)); err != nil {
				return cerr.Wrap(err, cerr.Op{
					Migration: m.Label(),
					Action:    string(ActionCreateStore),
					Store:     sn,
					Column:    name,
				})
			}
		}
	}
	return nil
}

func (uc *UseCase) storeExists(
	ctx context.Context, s repo.Scope, op cerr.Op,
) (bool, error) {
	ok, err := s.StoreExists(ctx, op.Store)
	if err != nil {
		return false, cerr.Wrap(err, op)
	}
	return ok, nil
}

func (uc *UseCase) removeColumns(
	ctx context.Context, s repo.Scope, m *model.Migration, label string,
) error {
	for _, sn := range m.Removed.Names() {
		base := m.Base.Stores[sn]
		op := cerr.Op{Migration: label, Store: sn}
		ok, err := uc.storeExists(ctx, s, op)
		if err != nil {
			return err
		}
		if !ok {
			op.Action = string(ActionDropStore)
			return cerr.StructuralInconsistencyf(
				"store does not exist",
			).At(op)
		}
		pk, _, _ := base.PrimaryKey()
		if m.Removed.Contains(sn, pk) {
			op.Action, op.Column = string(ActionDropStore), ""
			err = uc.do(ctx, op, func() error {
				return s.DropStore(ctx, sn)
			})
			if err != nil {
				return err
			}
			continue
		}
		for _, cn := range m.Removed.Columns(sn) {
			op.Column = cn
			switch base[cn].Kind {
			case model.Index:
				op.Action = string(ActionDropIndex)
				err = uc.do(ctx, op, func() error {
					return s.DropIndex(ctx, sn, cn)
				})
			default:
				op.Action = string(ActionDropColumn)
				err = uc.do(ctx, op, func() error {
					return s.DropColumn(ctx, sn, cn)
				})
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (uc *UseCase) addColumns(
	ctx context.Context, s repo.Scope, m *model.Migration, label string,
) error {
	for _, sn := range m.Added.Names() {
		added := m.Added[sn]
		op := cerr.Op{Migration: label, Store: sn}
		ok, err := uc.storeExists(ctx, s, op)
		if err != nil {
			return err
		}
		pkName, pk, hasPK := added.PrimaryKey()
		switch {
		case hasPK && ok:
			op.Action, op.Column = string(ActionCreateStore), pkName
			return cerr.StructuralInconsistencyf(
				"store already exists",
			).At(op)
		case hasPK:
			op.Action, op.Column = string(ActionCreateStore), pkName
			key := primaryKey(pkName, pk)
			err = uc.do(ctx, op, func() error {
				return s.CreateStore(ctx, sn, key)
			})
			if err != nil {
				return err
			}
		case !ok:
			op.Action = string(ActionAddColumn)
			return cerr.StructuralInconsistencyf(
				"store does not exist",
			).At(op)
		}
		for _, cn := range added.Names() {
			c := added[cn]
			op.Column = cn
			switch c.Kind {
			case model.PrimaryKey:
				continue
			case model.Index:
				op.Action = string(ActionCreateIndex)
				idx := repo.Index{
					Column:     cn,
					KeyPath:    c.Path(cn),
					Type:       c.Type,
					Unique:     c.Unique,
					MultiEntry: c.MultiEntry,
				}
				log.Debug(ctx, "existing records are not back-filled",
					uc.attrs(log.Store(sn), log.Column(cn))...,
				)
				err = uc.do(ctx, op, func() error {
					return s.CreateIndex(ctx, sn, idx)
				})
			default:
				op.Action = string(ActionAddColumn)
				f := repo.Field{Column: cn, Type: c.Type}
				err = uc.do(ctx, op, func() error {
					return s.AddColumn(ctx, sn, f)
				})
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}
