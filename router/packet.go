/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package router implements the in-process stanza router: packet
// classification and dispatch, the component/instance registration
// model, and the handler-chain invocation discipline (spec.md §4.1-4.2).
package router

import (
	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/xmpp"
)

// Class classifies a packet for destination selection (spec.md §3, §4.1).
type Class int

const (
	ClassMessage Class = iota
	ClassPresence
	ClassS10N
	ClassIQ
	ClassRoute
	ClassXDB
	ClassLog
)

func (c Class) String() string {
	switch c {
	case ClassMessage:
		return "message"
	case ClassPresence:
		return "presence"
	case ClassS10N:
		return "s10n"
	case ClassIQ:
		return "iq"
	case ClassRoute:
		return "route"
	case ClassXDB:
		return "xdb"
	case ClassLog:
		return "log"
	default:
		return "unknown"
	}
}

// Packet is a stanza paired with routing metadata (spec.md §3
// "Delivery packet"). Arena ownership is replaced by ordinary Go value
// ownership: once a Packet is handed to a handler chain, the caller
// must not mutate Element further (DESIGN NOTES §9).
type Packet struct {
	Element xmpp.XElement
	To      *jid.JID
	From    *jid.JID
	Class   Class
	Host    string
}

// Classify assigns a Class to el following spec.md §4.1.
func Classify(el xmpp.XElement) Class {
	switch el.Name() {
	case "route":
		return ClassRoute
	case "xdb":
		return ClassXDB
	case "log":
		return ClassLog
	case "presence":
		switch el.Type() {
		case xmpp.SubscribeType, xmpp.SubscribedType, xmpp.UnsubscribeType, xmpp.UnsubscribedType:
			return ClassS10N
		default:
			return ClassPresence
		}
	case "message":
		return ClassMessage
	case "iq":
		return ClassIQ
	default:
		return ClassIQ
	}
}

// NewPacket builds a Packet from a parsed stanza, deriving Host from the
// destination JID's domain.
func NewPacket(el xmpp.XElement, to, from *jid.JID) *Packet {
	host := ""
	if to != nil {
		host = to.Domain()
	}
	return &Packet{
		Element: el,
		To:      to,
		From:    from,
		Class:   Classify(el),
		Host:    host,
	}
}
