/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ortuman/jabberwire/jid"
)

// Message types of interest (spec.md §4 and §4.4 "storable set").
const (
	NormalType    = "normal"
	HeadlineType  = "headline"
	ChatType      = "chat"
	GroupChatType = "groupchat"
	ErrorType     = "error"
)

// expireNamespace is the XEP-0023 message-expiration hint namespace the
// offline queue rewrites on drain.
const expireNamespace = "jabber:x:expire"

// delayNamespace is the delivery-delay stamp Delay records and the
// offline queue clears once it has read it back via StoredAt.
const delayNamespace = "urn:xmpp:delay"

// Stanza is the common interface satisfied by Message, Presence and IQ.
type Stanza interface {
	XElement
	ToJID() *jid.JID
	FromJID() *jid.JID
}

// Message represents a <message/> stanza.
type Message struct {
	Element
	to, from *jid.JID
}

// NewMessageFromElement builds a Message from a generic element, validating
// its name and type attribute.
func NewMessageFromElement(e XElement, from, to *jid.JID) (*Message, error) {
	if e.Name() != "message" {
		return nil, fmt.Errorf("xmpp: wrong Message element name: %s", e.Name())
	}
	if !isMessageType(e.Type()) {
		return nil, fmt.Errorf(`xmpp: invalid Message "type" attribute: %s`, e.Type())
	}
	m := &Message{to: to, from: from}
	m.copyFrom(e)
	m.SetTo(to.String())
	m.SetFrom(from.String())
	return m, nil
}

// NewMessageType creates an empty Message stanza with the given id/type.
func NewMessageType(id, typ string) *Message {
	m := &Message{}
	m.SetName("message")
	if id != "" {
		m.SetID(id)
	}
	if typ != "" {
		m.SetType(typ)
	}
	return m
}

// ToJID returns the parsed destination JID, parsing the "to" attribute
// on demand when the stanza was built by hand (NewMessageType) rather
// than from a wire element (NewMessageFromElement).
func (m *Message) ToJID() *jid.JID {
	if m.to == nil {
		m.to, _ = jid.NewString(m.To(), false)
	}
	return m.to
}

// FromJID returns the parsed origin JID, parsing the "from" attribute
// on demand when the stanza was built by hand.
func (m *Message) FromJID() *jid.JID {
	if m.from == nil {
		m.from, _ = jid.NewString(m.From(), false)
	}
	return m.from
}

// IsNormal reports whether this is a 'normal' (or untyped) message.
func (m *Message) IsNormal() bool { return m.Type() == NormalType || m.Type() == "" }

// IsHeadline reports whether this is a 'headline' message.
func (m *Message) IsHeadline() bool { return m.Type() == HeadlineType }

// IsChat reports whether this is a 'chat' message.
func (m *Message) IsChat() bool { return m.Type() == ChatType }

// IsGroupChat reports whether this is a 'groupchat' message.
func (m *Message) IsGroupChat() bool { return m.Type() == GroupChatType }

// IsError reports whether this is an 'error' message — these must never
// be bounced again (spec.md §4.4, §7).
func (m *Message) IsError() bool { return m.Type() == ErrorType }

// IsMessageWithBody reports whether the message carries a <body/> child.
func (m *Message) IsMessageWithBody() bool { return m.Elements().Child("body") != nil }

// Body returns the message's <body/> text, or "".
func (m *Message) Body() string {
	if b := m.Elements().Child("body"); b != nil {
		return b.Text()
	}
	return ""
}

func isMessageType(typ string) bool {
	switch typ {
	case "", ErrorType, NormalType, HeadlineType, ChatType, GroupChatType:
		return true
	default:
		return false
	}
}

// ServiceUnavailableError returns a recipient-unavailable bounce for this
// message (spec.md §4.4 offline queue "otherwise" branch).
func (m *Message) ServiceUnavailableError() XElement {
	return NewErrorElementFromElement(m, ErrServiceUnavailable, nil)
}

// Delay stamps the message with a delivery-delay element (XEP-0203,
// compatible with the legacy jabber:x:delay the spec's offline queue
// relies on) recording from and reason.
func (m *Message) Delay(from, reason string) {
	delay := NewElementNamespace("delay", delayNamespace)
	delay.SetAttribute("from", from)
	delay.SetAttribute("stamp", time.Now().UTC().Format(time.RFC3339))
	if reason != "" {
		delay.SetText(reason)
	}
	m.AppendElement(delay)
}

// StoredAt returns the stamp recorded by Delay, or the zero time if absent.
func (m *Message) StoredAt() time.Time {
	delay := m.Elements().ChildNamespace("delay", delayNamespace)
	if delay == nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, delay.Attributes().Get("stamp"))
	if err != nil {
		return time.Time{}
	}
	return t
}

// ClearStoredAt removes the delivery-delay stamp Delay recorded, once
// the offline queue has used it to compute how long the message sat in
// the queue (spec.md §4.4 drain step "clear the stored timestamp").
func (m *Message) ClearStoredAt() {
	filtered := m.elements[:0]
	for _, c := range m.elements {
		if c.Name() == "delay" && c.Namespace() == delayNamespace {
			continue
		}
		filtered = append(filtered, c)
	}
	m.elements = filtered
}

// ExpireSeconds returns the XEP-0023 message-expiration hint's remaining
// seconds and whether the message carries one at all.
func (m *Message) ExpireSeconds() (int, bool) {
	x := m.Elements().ChildNamespace("x", expireNamespace)
	if x == nil {
		return 0, false
	}
	secs, err := strconv.Atoi(x.Attributes().Get("seconds"))
	if err != nil {
		return 0, false
	}
	return secs, true
}

// SetExpireSeconds rewrites the XEP-0023 expiration hint to seconds,
// replacing any existing hint on the message.
func (m *Message) SetExpireSeconds(seconds int) {
	filtered := m.elements[:0]
	for _, c := range m.elements {
		if c.Name() == "x" && c.Namespace() == expireNamespace {
			continue
		}
		filtered = append(filtered, c)
	}
	m.elements = filtered

	x := NewElementNamespace("x", expireNamespace)
	x.SetAttribute("seconds", strconv.Itoa(seconds))
	m.AppendElement(x)
}
