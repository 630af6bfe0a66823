/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"fmt"

	"github.com/ortuman/jabberwire/jid"
)

// IQ <type/> values.
const (
	GetType    = "get"
	SetType    = "set"
	ResultType = "result"
)

// IQ represents an <iq/> stanza. Per spec.md §3, an IQ has exactly one
// significant child (the payload) whose element-namespace selects the
// handler.
type IQ struct {
	Element
	to, from *jid.JID
}

// NewIQType creates an empty IQ stanza with the given id/type.
func NewIQType(id, typ string) *IQ {
	iq := &IQ{}
	iq.SetName("iq")
	iq.SetID(id)
	iq.SetType(typ)
	return iq
}

// NewIQFromElement builds an IQ from a generic element, validating its
// name, type attribute, non-empty id and exactly-one-child invariant.
func NewIQFromElement(e XElement, from, to *jid.JID) (*IQ, error) {
	if e.Name() != "iq" {
		return nil, fmt.Errorf("xmpp: wrong IQ element name: %s", e.Name())
	}
	if e.ID() == "" {
		return nil, fmt.Errorf("xmpp: IQ must have an id attribute")
	}
	if !isIQType(e.Type()) {
		return nil, fmt.Errorf(`xmpp: invalid IQ "type" attribute: %s`, e.Type())
	}
	if e.Type() == GetType || e.Type() == SetType {
		if e.Elements().Count() != 1 {
			return nil, fmt.Errorf("xmpp: IQ of type get/set must have exactly one child")
		}
	}
	iq := &IQ{to: to, from: from}
	iq.copyFrom(e)
	iq.SetTo(to.String())
	iq.SetFrom(from.String())
	return iq, nil
}

// ToJID returns the parsed destination JID, parsing the "to" attribute
// on demand when the stanza was built by hand (NewIQType) rather than
// from a wire element (NewIQFromElement).
func (iq *IQ) ToJID() *jid.JID {
	if iq.to == nil {
		iq.to, _ = jid.NewString(iq.To(), false)
	}
	return iq.to
}

// FromJID returns the parsed origin JID, parsing the "from" attribute
// on demand when the stanza was built by hand.
func (iq *IQ) FromJID() *jid.JID {
	if iq.from == nil {
		iq.from, _ = jid.NewString(iq.From(), false)
	}
	return iq.from
}

// IsGet reports whether this is a get-type IQ.
func (iq *IQ) IsGet() bool { return iq.Type() == GetType }

// IsSet reports whether this is a set-type IQ.
func (iq *IQ) IsSet() bool { return iq.Type() == SetType }

// IsResult reports whether this is a result-type IQ.
func (iq *IQ) IsResult() bool { return iq.Type() == ResultType }

// Payload returns the IQ's single significant child, or nil.
func (iq *IQ) Payload() XElement {
	all := iq.Elements().All()
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// ResultIQ returns an empty type="result" reply to iq.
func (iq *IQ) ResultIQ() *IQ {
	res := NewIQType(iq.ID(), ResultType)
	res.to, res.from = iq.FromJID(), iq.ToJID()
	res.SetTo(iq.From())
	res.SetFrom(iq.To())
	return res
}

func (iq *IQ) errorReply(se *StanzaError) XElement {
	return NewErrorElementFromElement(iq, se, nil)
}

// BadRequestError returns a bad-request error reply.
func (iq *IQ) BadRequestError() XElement { return iq.errorReply(ErrBadRequest) }

// NotAllowedError returns a not-allowed error reply.
func (iq *IQ) NotAllowedError() XElement { return iq.errorReply(ErrNotAllowed) }

// ForbiddenError returns a forbidden error reply.
func (iq *IQ) ForbiddenError() XElement { return iq.errorReply(ErrForbidden) }

// ConflictError returns a conflict error reply.
func (iq *IQ) ConflictError() XElement { return iq.errorReply(ErrConflict) }

// ServiceUnavailableError returns a service-unavailable error reply.
func (iq *IQ) ServiceUnavailableError() XElement { return iq.errorReply(ErrServiceUnavailable) }

// ItemNotFoundError returns an item-not-found error reply.
func (iq *IQ) ItemNotFoundError() XElement { return iq.errorReply(ErrItemNotFound) }

// InternalServerError returns an internal-server-error reply.
func (iq *IQ) InternalServerError() XElement { return iq.errorReply(ErrInternalServerError) }

func isIQType(typ string) bool {
	switch typ {
	case GetType, SetType, ResultType, ErrorType:
		return true
	default:
		return false
	}
}
