/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package jsm implements the session manager bound to the local user
// domain(s): session establishment, the presence/subscription state
// machine, roster queries, the offline queue, and server-addressed
// disco/browse handling (spec.md §4.4).
package jsm

// Phase is one of the event phases modules register for.
type Phase int

const (
	// PhaseRegister fires when an in-band registration create succeeds.
	PhaseRegister Phase = iota
	// PhasePreRegister fires before a registration create is committed.
	PhasePreRegister
	// PhaseAuth fires on authentication.
	PhaseAuth
	// PhasePasswordChange fires on a password update.
	PhasePasswordChange
	// PhaseSession fires when a new session is being established.
	PhaseSession
	// PhaseDeserialize fires when a restored session is re-hooked.
	PhaseDeserialize
	// PhaseOffline fires when a stanza arrives for a user with no
	// active session.
	PhaseOffline
	// PhaseServer fires when a stanza is addressed to the server's own JID.
	PhaseServer
	// PhaseDeliver fires right before a stanza is locally delivered.
	PhaseDeliver
	// PhaseDelete fires when a user is being removed.
	PhaseDelete
	// PhaseShutdown fires on process teardown.
	PhaseShutdown
	// PhaseIn fires for every stanza inbound to one session.
	PhaseIn
	// PhaseOut fires for every stanza outbound from one session.
	PhaseOut
	// PhaseEnd fires when one session closes.
	PhaseEnd
)

// Result is the value a phase handler returns.
type Result int

const (
	// Pass tries the next handler.
	Pass Result = iota
	// Handled stops the chain.
	Handled
	// Ignore acts like Pass but signals the module did not apply.
	Ignore
)

// HandlerFunc processes one Event for a phase.
type HandlerFunc func(evt *Event) Result
