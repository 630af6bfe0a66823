/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package stream implements the event-dispatch loop sitting above the
// byte-level XML tokenizer (out of scope per spec.md §1): it turns a
// token stream into ROOT/NODE/CLOSE events, enforces the node-size and
// stream-depth limits, and resolves namespace prefixes with a
// well-known fallback table passed in explicitly at construction time
// (DESIGN NOTES §9 — no process-wide prefix globals).
package stream

import (
	"encoding/xml"
	"io"

	streamerr "github.com/ortuman/jabberwire/xmpp/streamerror"
)

// EventKind identifies the three events a Dispatcher emits.
type EventKind int

const (
	// Root is emitted for the opening <stream:stream> (or <open/>)
	// element and its namespace declarations.
	Root EventKind = iota
	// Node is emitted for each completed top-level child of the stream.
	Node
	// Close is emitted when the peer closes its half of the connection.
	Close
)

// Event carries one dispatched occurrence.
type Event struct {
	Kind    EventKind
	Element Element
	// NamespaceGuessed is set on Element when a child's prefix could not
	// be resolved from declared bindings and the well-known fallback
	// table was used instead — informational only, never blocks delivery.
	NamespaceGuessed bool
}

// Element is the minimal shape the dispatcher needs from a decoded
// element; callers (xmpp package) adapt to/from their own Element type.
type Element interface {
	Name() string
	Namespace() string
	To() string
	Version() string
}

// TokenSource is satisfied by the external tokenizer collaborator —
// e.g. an *encoding/xml.Decoder — and is the sole interface this
// package depends on for input.
type TokenSource interface {
	Token() (xml.Token, error)
}

// Limits bounds a single connection's XML stream.
type Limits struct {
	MaxNodeSize  int // default 100 * 1024
	MaxStreamDepth int // default 25
}

// DefaultLimits returns the spec.md §4.6 defaults.
func DefaultLimits() Limits {
	return Limits{MaxNodeSize: 100 * 1024, MaxStreamDepth: 25}
}

// WellKnownPrefixes is the fallback prefix->IRI table consulted when an
// element's prefix cannot be resolved from declared bindings
// (spec.md §4.6 "Namespace handling").
var WellKnownPrefixes = map[string]string{
	"stream": "http://etherx.jabber.org/streams",
	"db":     "jabber:server:dialback",
}

// Builder constructs a concrete element from a decoded start tag, its
// resolved namespace, and raw size accounting. It is supplied by the
// caller (the xmpp package) so this package never depends on xmpp.
type Builder interface {
	// StartElement begins a new element with name/namespace; it is
	// called on the parent's builder for a child element. Dispatcher
	// always passes a nil nested.
	StartElement(name, namespace string, attrs []xml.Attr, nested Builder) Builder
	// CharData appends character data to the element under construction.
	CharData(data []byte)
	// EndElement finalizes the element and returns it plus its parent
	// builder (nil at stream-root level).
	EndElement() (Element, Builder)
	// Size reports bytes accounted for so far, for the MaxNodeSize check.
	Size() int
}

// Dispatcher turns a TokenSource into Root/Node/Close events.
type Dispatcher struct {
	src     TokenSource
	limits  Limits
	newRoot func() Builder // fresh Builder for a new top-level node

	depth   int
	prefixStack []map[string]string // prefix -> IRI, one map per open element
	cur     Builder
}

// NewDispatcher builds a Dispatcher reading from src, enforcing limits,
// and constructing nodes via newRoot (called once per top-level child).
func NewDispatcher(src TokenSource, limits Limits, newRoot func() Builder) *Dispatcher {
	return &Dispatcher{src: src, limits: limits, newRoot: newRoot}
}

// Next reads and dispatches the next event. It returns io.EOF when the
// underlying source is exhausted normally.
func (d *Dispatcher) Next() (Event, error) {
	for {
		tok, err := d.src.Token()
		if err != nil {
			if err == io.EOF {
				return Event{Kind: Close}, io.EOF
			}
			return Event{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			ns := d.resolveNamespace(t)
			d.pushScope(t)
			d.depth++
			if d.depth > d.limits.MaxStreamDepth {
				return Event{}, streamerr.ErrResourceConstraint
			}
			guessed := ns.guessed
			if d.depth == 1 {
				// The stream-opening tag itself: reported once and never
				// accumulates children, so it gets its own disposable
				// builder instead of becoming the parent every subsequent
				// top-level stanza would otherwise chain off of.
				root := d.newRoot().StartElement(t.Name.Local, ns.iri, t.Attr, nil)
				el, _ := root.EndElement()
				return Event{Kind: Root, Element: el, NamespaceGuessed: guessed}, nil
			}
			if d.depth == 2 {
				// Each top-level stanza gets its own fresh builder so closing
				// it reports a nil parent back to Next (a stream carries many
				// independent stanzas, not one nested document).
				d.cur = d.newRoot()
			}
			d.cur = d.cur.StartElement(t.Name.Local, ns.iri, t.Attr, nil)

		case xml.CharData:
			if d.cur != nil {
				d.cur.CharData(t)
				if d.cur.Size() > d.limits.MaxNodeSize {
					return Event{}, streamerr.ErrPolicyViolation
				}
			}

		case xml.EndElement:
			d.popScope()
			d.depth--
			if d.cur == nil {
				continue
			}
			el, parent := d.cur.EndElement()
			if parent == nil {
				d.cur = nil
				if d.depth == 0 {
					return Event{Kind: Close}, nil
				}
				return Event{Kind: Node, Element: el}, nil
			}
			d.cur = parent
		}
	}
}

type resolvedNS struct {
	iri     string
	guessed bool
}

func (d *Dispatcher) pushScope(t xml.StartElement) {
	scope := map[string]string{}
	for _, a := range t.Attr {
		switch {
		case a.Name.Space == "xmlns":
			scope[a.Name.Local] = a.Value
		case a.Name.Local == "xmlns" && a.Name.Space == "":
			scope[""] = a.Value
		}
	}
	d.prefixStack = append(d.prefixStack, scope)
}

func (d *Dispatcher) popScope() {
	if len(d.prefixStack) == 0 {
		return
	}
	d.prefixStack = d.prefixStack[:len(d.prefixStack)-1]
}

func (d *Dispatcher) resolveNamespace(t xml.StartElement) resolvedNS {
	prefix := t.Name.Space
	if iri := t.Name.Space; iri != "" {
		// encoding/xml already resolves to the expanded IRI in Name.Space
		// when it can; treat that as authoritative.
		return resolvedNS{iri: iri}
	}
	for i := len(d.prefixStack) - 1; i >= 0; i-- {
		if iri, ok := d.prefixStack[i][prefix]; ok {
			return resolvedNS{iri: iri}
		}
	}
	if iri, ok := WellKnownPrefixes[prefix]; ok {
		return resolvedNS{iri: iri, guessed: true}
	}
	return resolvedNS{}
}
