/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"fmt"
	"strconv"

	"github.com/ortuman/jabberwire/jid"
)

// Presence <type/> values of interest (spec.md §3, §4.4).
const (
	AvailableType    = ""
	UnavailableType  = "unavailable"
	SubscribeType    = "subscribe"
	SubscribedType   = "subscribed"
	UnsubscribeType  = "unsubscribe"
	UnsubscribedType = "unsubscribed"
	ProbeType        = "probe"
)

const (
	minPriority = -128
	maxPriority = 127
)

// Presence represents a <presence/> stanza.
type Presence struct {
	Element
	to, from *jid.JID
}

// NewPresence creates an empty presence stanza addressed from->to with typ.
func NewPresence(from, to *jid.JID, typ string) *Presence {
	p := &Presence{to: to, from: from}
	p.SetName("presence")
	if typ != "" {
		p.SetType(typ)
	}
	p.SetFrom(from.String())
	p.SetTo(to.String())
	return p
}

// NewPresenceFromElement builds a Presence from a generic element.
func NewPresenceFromElement(e XElement, from, to *jid.JID) (*Presence, error) {
	if e.Name() != "presence" {
		return nil, fmt.Errorf("xmpp: wrong Presence element name: %s", e.Name())
	}
	if !isPresenceType(e.Type()) {
		return nil, fmt.Errorf(`xmpp: invalid Presence "type" attribute: %s`, e.Type())
	}
	p := &Presence{to: to, from: from}
	p.copyFrom(e)
	p.SetTo(to.String())
	p.SetFrom(from.String())
	return p, nil
}

// ToJID returns the parsed destination JID.
func (p *Presence) ToJID() *jid.JID { return p.to }

// FromJID returns the parsed origin JID.
func (p *Presence) FromJID() *jid.JID { return p.from }

// IsAvailable reports whether this is an available presence (no type).
func (p *Presence) IsAvailable() bool { return p.Type() == AvailableType }

// IsUnavailable reports whether this is an unavailable presence.
func (p *Presence) IsUnavailable() bool { return p.Type() == UnavailableType }

// IsSubscribe reports the S10N subscribe type.
func (p *Presence) IsSubscribe() bool { return p.Type() == SubscribeType }

// IsSubscribed reports the S10N subscribed type.
func (p *Presence) IsSubscribed() bool { return p.Type() == SubscribedType }

// IsUnsubscribe reports the S10N unsubscribe type.
func (p *Presence) IsUnsubscribe() bool { return p.Type() == UnsubscribeType }

// IsUnsubscribed reports the S10N unsubscribed type.
func (p *Presence) IsUnsubscribed() bool { return p.Type() == UnsubscribedType }

// IsProbe reports whether this is a presence probe.
func (p *Presence) IsProbe() bool { return p.Type() == ProbeType }

// IsSubscription reports whether the type is one of the four S10N types
// (spec.md §4.1 "s10n" subclass).
func (p *Presence) IsSubscription() bool {
	switch p.Type() {
	case SubscribeType, SubscribedType, UnsubscribeType, UnsubscribedType:
		return true
	default:
		return false
	}
}

// Priority returns the clamped <priority/> value (spec.md §8 boundary
// behavior: 500 clamps to 127, -500 clamps to -128, missing is 0).
func (p *Presence) Priority() int8 {
	el := p.Elements().Child("priority")
	if el == nil || el.Text() == "" {
		return 0
	}
	v, err := strconv.Atoi(el.Text())
	if err != nil {
		return 0
	}
	if v > maxPriority {
		v = maxPriority
	} else if v < minPriority {
		v = minPriority
	}
	return int8(v)
}

// Status returns the <status/> text, or "".
func (p *Presence) Status() string {
	if el := p.Elements().Child("status"); el != nil {
		return el.Text()
	}
	return ""
}

func isPresenceType(typ string) bool {
	switch typ {
	case AvailableType, UnavailableType, SubscribeType, SubscribedType,
		UnsubscribeType, UnsubscribedType, ProbeType, ErrorType:
		return true
	default:
		return false
	}
}
