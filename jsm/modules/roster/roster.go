/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package roster exposes jsm's roster-query handling as a discoverable
// jsm.IQHandler/jsm.DiscoContributor, grounded on jabberd14's
// mod_roster.c. The roster subscription state machine and storage
// itself live in jsm (jsm/roster.go, jsm.go's handleRosterQuery/
// handleOutboundS10N/handleInboundS10N) since they are entangled with
// presence routing; this package only contributes the jabber:iq:roster
// feature string to account-level disco.
package roster

const namespace = "jabber:iq:roster"

// Roster is a marker module: jsm.JSM already answers jabber:iq:roster
// queries inline (routeIQ checks the namespace before consulting the
// registered IQHandler set), so this type exists purely to advertise
// the feature to disco.
type Roster struct{}

// New returns a Roster disco contributor.
func New() *Roster { return &Roster{} }

// Name satisfies jsm.Module.
func (r *Roster) Name() string { return "roster" }

// DiscoFeatures satisfies jsm.DiscoContributor.
func (r *Roster) DiscoFeatures() []string { return []string{namespace} }
