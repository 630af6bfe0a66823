/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package jsm

import "github.com/ortuman/jabberwire/xmpp"

// Event is the payload passed to a phase handler. Which fields are
// populated depends on the firing phase.
type Event struct {
	Phase   Phase
	Session *Session
	Stanza  xmpp.Stanza
	Element xmpp.XElement
	Peer    string // roster peer JID, for subscription-phase events
	Reason  error
}
