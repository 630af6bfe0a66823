/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package sql implements an XDB storage component (spec.md §4.3) backed
// by database/sql, wired through the same component-connector discipline
// the rest of the system uses: it is just another instance registered
// on the router, answering requests in its Deliver phase.
package sql

import "github.com/pkg/errors"

// errStorageFailure wraps any underlying driver error surfaced to a
// caller as a type="error" XDB reply.
var errStorageFailure = errors.New("sql: storage operation failed")
