// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package migrationuc

import (
	"errors"
)

// Option is a functional option for the migration use case.
type Option func(uc *UseCase) error

// WithObserver option configures a migration UseCase instance in
// order to report every structural operation (and its outcome) to
// the o observer. This option may be passed to the New() function.
func WithObserver(o Observer) Option {
	return func(uc *UseCase) error {
		if o == nil {
			return errors.New("observer is nil")
		}
		if uc.observer != nil {
			return errors.New("observer is already configured")
		}
		uc.observer = o
		return nil
	}
}

// WithRunID option sets the identifier which is attached to all logs
// and observer events of one migration run. By default, a random UUID
// is generated by the New() function.
func WithRunID(id string) Option {
	return func(uc *UseCase) error {
		if id == "" {
			return errors.New("run ID is empty")
		}
		if uc.runID != "" {
			return errors.New("run ID is already configured")
		}
		uc.runID = id
		return nil
	}
}
