// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package log

import (
	"log/slog"
)

// Valuer returns an Attr for the given slog.LogValuer value.
func Valuer(key string, value slog.LogValuer) slog.Attr {
	return slog.Any(key, value)
}

// Err returns an Attr for the given error value.
// The error value is resolved as a string by its Error() method.
// If error value is nil, the constant "no-error" value will be used.
func Err(key string, value error) slog.Attr {
	if value == nil {
		return slog.String(key, "no-error")
	}
	return slog.String(key, value.Error())
}

// Version returns an Attr for a schema version number.
func Version(key string, v int) slog.Attr {
	return slog.Int(key, v)
}

// Store returns an Attr which names an object store.
func Store(name string) slog.Attr {
	return slog.String("store", name)
}

// Column returns an Attr which names a column of an object store.
func Column(name string) slog.Attr {
	return slog.String("column", name)
}

// Migration returns an Attr for a migration label, like "1->2".
func Migration(label string) slog.Attr {
	return slog.String("migration", label)
}
