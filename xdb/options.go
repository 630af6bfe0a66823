/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xdb

import "github.com/ortuman/jabberwire/xmpp"

// Action is the extended action grammar a Set request may carry
// (spec.md §4.3 "Extended action grammar").
type Action string

const (
	// ActionReplace (the zero value) replaces the entire namespace
	// payload with the new one.
	ActionReplace Action = ""
	// ActionInsert hides nodes matching Match/MatchPath then inserts the
	// payload as a child of the namespace root.
	ActionInsert Action = "insert"
	// ActionCheck compares the payload against the selected node's text.
	ActionCheck Action = "check"
)

// SetOption customizes a Set request's <xdb/> envelope.
type SetOption func(*xmpp.Element)

// WithAction selects insert/check semantics (spec.md §4.3).
func WithAction(a Action) SetOption {
	return func(e *xmpp.Element) {
		if a != ActionReplace {
			e.SetAttribute("action", string(a))
		}
	}
}

// WithMatch supplies an XPath-like selector for insert/check.
func WithMatch(match string) SetOption {
	return func(e *xmpp.Element) { e.SetAttribute("match", match) }
}

// WithMatchPath supplies an explicit path with prefix bindings for
// insert/check (spec.md §4.3 "matchpath ... matchns").
func WithMatchPath(path string, nsBindings map[string]string) SetOption {
	return func(e *xmpp.Element) {
		e.SetAttribute("matchpath", path)
		for prefix, iri := range nsBindings {
			e.SetAttribute("matchns:"+prefix, iri)
		}
	}
}
