/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package jsm

import "github.com/pkg/errors"

var (
	// ErrSessionConflict is the reason EstablishSession terminates an
	// existing session at the same resource with; the old session's
	// Deliverer receives it through Disconnect.
	ErrSessionConflict = errors.New("jsm: session conflict")
)
