/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package router

import "github.com/pkg/errors"

// Sentinel errors of the router package. Route returns
// ErrResourceNotFound and ErrHandlerFailed; the other three are
// declared for callers but nothing in this module returns them.
var (
	// ErrResourceNotFound means no instance matches the packet's
	// destination domain.
	ErrResourceNotFound = errors.New("router: resource not found")
	// ErrNotAuthenticated means the destination local user has no active
	// session (only meaningful to callers that care, e.g. offline
	// storage deciding to archive a message).
	ErrNotAuthenticated = errors.New("router: not authenticated")
	// ErrNotExistingAccount means the destination bare JID has no known
	// account at all.
	ErrNotExistingAccount = errors.New("router: not existing account")
	// ErrBlockedJID means the sender is on the recipient's block list.
	ErrBlockedJID = errors.New("router: blocked JID")
	// ErrHandlerFailed is returned when a chain's terminal Result is Err.
	ErrHandlerFailed = errors.New("router: handler failed")
)
