// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package migrationuc

import (
	"time"
)

// Action names one kind of backend operation which is performed while
// migrating a database.
type Action string

// Actions which are reported to the Observer and used as the Action
// field of cerr.Op error coordinates.
const (
	ActionReadVersion    Action = "read-version"
	ActionWriteVersion   Action = "write-version"
	ActionCreateStore    Action = "create-store"
	ActionDropStore      Action = "drop-store"
	ActionCreateIndex    Action = "create-index"
	ActionDropIndex      Action = "drop-index"
	ActionAddColumn      Action = "add-column"
	ActionDropColumn     Action = "drop-column"
	ActionApplyMigration Action = "apply-migration"
	ActionCommit         Action = "commit"
)

// Event describes one finished backend operation.
type Event struct {
	RunID     string
	Backend   string
	Migration string // empty for version marker operations
	Action    Action
	Store     string
	Column    string
	Err       error
	Duration  time.Duration

	// Applied is the number of migrations which were made durable by
	// an ActionCommit event. It is zero for other actions and for a
	// failed commit, since an aborted scope keeps no migration.
	Applied int
}

// Observer receives the events of a migration run. Events are
// delivered synchronously, in the order of operations, so an Observer
// must return quickly.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts an ordinary function to the Observer interface.
type ObserverFunc func(e Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
