// Copyright (c) 2024 Behnam Momeni
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package settings

import (
	"cmp"
	"fmt"
)

// OutOfRangeError reports a setting which was not within its bounds.
// The setting itself is clamped into the bounds by VerifyRange, so
// Value keeps a copy of the rejected value.
type OutOfRangeError[T cmp.Ordered] struct {
	Value        *T   // rejected value, nil for InvalidRange errors
	LessThanMin  bool // the minimum bound was violated
	InvalidRange bool // the minimum bound is greater than the maximum
}

// Error implements the error interface.
func (e *OutOfRangeError[T]) Error() string {
	switch {
	case e.InvalidRange:
		return "min is greater than max"
	case e.LessThanMin:
		return fmt.Sprintf("value is less than min (%v)", *e.Value)
	default:
		return fmt.Sprintf("value is greater than max (%v)", *e.Value)
	}
}

// VerifyRange checks that the optional *value setting is within the
// optional minb and maxb bounds. A nil setting or bound is not checked.
// An out of range setting is replaced by the violated bound and its
// original value is reported through the returned error.
func VerifyRange[T cmp.Ordered](
	value **T, minb, maxb *T,
) *OutOfRangeError[T] {
	if minb != nil && maxb != nil && *minb > *maxb {
		return &OutOfRangeError[T]{InvalidRange: true}
	}
	if *value == nil {
		return nil
	}
	v := **value
	if minb != nil && v < *minb {
		**value = *minb
		return &OutOfRangeError[T]{Value: &v, LessThanMin: true}
	}
	if maxb != nil && v > *maxb {
		**value = *maxb
		return &OutOfRangeError[T]{Value: &v}
	}
	return nil
}
