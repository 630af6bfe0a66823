/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package jsm

import "github.com/ortuman/jabberwire/xmpp"

// Module is the marker interface every registered JSM extension
// satisfies, generalizing the teacher's compile-time module wiring in
// c2s.go's initializeModules into a registry any component can extend
// (SPEC_FULL.md §4.4 "compile-time module registry").
type Module interface {
	Name() string
}

// IQHandler is a Module that answers a subset of <iq/> stanzas.
type IQHandler interface {
	Module

	// MatchesIQ reports whether iq should be processed by this handler.
	MatchesIQ(iq *xmpp.IQ) bool

	// ProcessIQ processes iq, sending any reply through the owning
	// session's Deliverer.
	ProcessIQ(iq *xmpp.IQ)
}

// DiscoContributor is implemented by modules that add identity/feature
// entries to the server-addressed disco#info/disco#items response
// (SPEC_FULL.md §4.4 "Server-addressed stanzas").
type DiscoContributor interface {
	Module
	DiscoFeatures() []string
}
