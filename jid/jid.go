/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package jid implements the XMPP address format: node@domain/resource.
package jid

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
)

// ErrInvalidJID is returned when a JID string cannot be parsed.
var ErrInvalidJID = errors.New("jid: invalid JID string")

const (
	maxNodeLen     = 1023
	maxDomainLen   = 1023
	maxResourceLen = 1023
)

var foldCaser = cases.Fold()

// JID represents an XMPP address. The zero value is not valid; use New
// or NewString to construct one.
type JID struct {
	node     string
	domain   string
	resource string
}

// New builds a JID from its three parts, stored as given. If checkJID
// is true, the part lengths and a non-empty domain are validated; no
// part is case-folded here (Matches and MatchesBare fold when
// comparing).
func New(node, domain, resource string, checkJID bool) (*JID, error) {
	if checkJID {
		if len(node) > maxNodeLen || len(domain) > maxDomainLen || len(resource) > maxResourceLen {
			return nil, ErrInvalidJID
		}
		if domain == "" {
			return nil, ErrInvalidJID
		}
	}
	return &JID{node: node, domain: domain, resource: resource}, nil
}

// NewString parses str in the form [node@]domain[/resource].
func NewString(str string, checkJID bool) (*JID, error) {
	if str == "" {
		return nil, ErrInvalidJID
	}
	var node, domain, resource string

	atIdx := strings.IndexByte(str, '@')
	slashIdx := strings.IndexByte(str, '/')

	switch {
	case atIdx >= 0 && (slashIdx < 0 || slashIdx > atIdx):
		node = str[:atIdx]
		if slashIdx >= 0 {
			domain = str[atIdx+1 : slashIdx]
			resource = str[slashIdx+1:]
		} else {
			domain = str[atIdx+1:]
		}
	case slashIdx >= 0:
		domain = str[:slashIdx]
		resource = str[slashIdx+1:]
	default:
		domain = str
	}
	if node == "" && atIdx >= 0 {
		return nil, ErrInvalidJID
	}
	return New(node, domain, resource, checkJID)
}

// Node returns the local part, or "" if absent.
func (j *JID) Node() string { return j.node }

// Domain returns the domain part.
func (j *JID) Domain() string { return j.domain }

// Resource returns the resource part, or "" if absent.
func (j *JID) Resource() string { return j.resource }

// IsServer reports whether the JID has neither node nor resource.
func (j *JID) IsServer() bool { return j.node == "" && j.resource == "" }

// IsBare reports whether the JID has no resource.
func (j *JID) IsBare() bool { return j.resource == "" }

// IsFull reports whether the JID has a resource.
func (j *JID) IsFull() bool { return j.resource != "" }

// IsFullWithUser reports whether the JID has both a node and a resource.
func (j *JID) IsFullWithUser() bool { return j.node != "" && j.resource != "" }

// ToBareJID returns a copy of this JID with the resource stripped.
func (j *JID) ToBareJID() *JID {
	if j.IsBare() {
		return j
	}
	return &JID{node: j.node, domain: j.domain}
}

// String serializes the JID as node@domain/resource, eliding absent parts.
func (j *JID) String() string {
	var sb strings.Builder
	if j.node != "" {
		sb.WriteString(j.node)
		sb.WriteByte('@')
	}
	sb.WriteString(j.domain)
	if j.resource != "" {
		sb.WriteByte('/')
		sb.WriteString(j.resource)
	}
	return sb.String()
}

// foldedNode/foldedDomain return the case-folded comparison form of the
// node/domain parts. XMPP's nodeprep/resourceprep are not fully
// implemented; case folding is the part the spec actually exercises
// (canonical comparison by case-folded node and domain).
func (j *JID) foldedNode() string   { return foldCaser.String(j.node) }
func (j *JID) foldedDomain() string { return foldCaser.String(j.domain) }

// Matches reports whether two JIDs are equal by component, case-folding
// node and domain. Resources are compared byte-for-byte (resourceprep is
// out of scope; resources are opaque per RFC 3920).
func (j *JID) Matches(other *JID) bool {
	if other == nil {
		return false
	}
	return j.foldedNode() == other.foldedNode() &&
		j.foldedDomain() == other.foldedDomain() &&
		j.resource == other.resource
}

// MatchesBare reports whether the two JIDs' bare forms are equal.
func (j *JID) MatchesBare(other *JID) bool {
	if other == nil {
		return false
	}
	return j.foldedNode() == other.foldedNode() && j.foldedDomain() == other.foldedDomain()
}
