// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package settings

// Default overwrites the (*t) pointer, which should be nil, in order
// to point to a newly allocated T instance which is initialized with
// the def value. If the (*t) pointer was not nil, Default performs no
// action.
func Default[T any](t **T, def T) {
	if (*t) != nil {
		return
	}
	(*t) = &def
}

// Value returns (*t) or the zero value of T if t is nil.
func Value[T any](t *T) T {
	if t == nil {
		var zero T
		return zero
	}
	return *t
}
