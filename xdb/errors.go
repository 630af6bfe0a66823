/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package xdb implements the extensible-database request/response
// discipline (spec.md §4.3): a synchronous-feeling get/set API backed
// by asynchronous request/response packets routed through the router.
package xdb

import "github.com/pkg/errors"

var (
	// ErrTimeout is returned by Set when no reply arrived within the
	// cache's hard timeout (default 30s); Get reports the same expiry as
	// a nil result with a nil error.
	ErrTimeout = errors.New("xdb: request timed out")

	// ErrStorageFailure is returned when the storage component replied
	// with type="error".
	ErrStorageFailure = errors.New("xdb: storage component returned an error")

	// ErrCheckMismatch is returned by Set when a "check" action payload
	// does not equal the stored node's text. This resolves the Open
	// Question in spec.md §9 ("the check action's return value is
	// ambiguous in the source"): a mismatch is a definite, typed error,
	// distinguishable from a transport/storage failure.
	ErrCheckMismatch = errors.New("xdb: check action mismatch")
)
