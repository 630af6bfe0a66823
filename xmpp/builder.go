/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xmpp

import (
	"encoding/xml"

	"github.com/ortuman/jabberwire/xmpp/stream"
)

// elementBuilder adapts *Element construction to stream.Builder, the
// shape xmpp/stream.Dispatcher needs from its caller (spec.md §4.6's
// "Builder is supplied by the caller so stream never depends on xmpp").
type elementBuilder struct {
	el     *Element
	parent *elementBuilder
	size   int
}

// NewRootBuilder returns the per-top-level-node Builder factory
// xmpp/stream.NewDispatcher expects as its newRoot argument.
func NewRootBuilder() stream.Builder { return &elementBuilder{} }

// StartElement satisfies stream.Builder. nested is always nil as
// called by Dispatcher.Next; nesting is instead tracked through the
// parent field every builder in the chain carries.
func (b *elementBuilder) StartElement(name, namespace string, attrs []xml.Attr, nested stream.Builder) stream.Builder {
	child := &elementBuilder{el: NewElementNamespace(name, namespace), parent: b}
	for _, a := range attrs {
		label := a.Name.Local
		if a.Name.Space != "" && a.Name.Space != "xmlns" {
			label = a.Name.Space + ":" + a.Name.Local
		}
		child.el.SetAttribute(label, a.Value)
	}
	child.size = len(name) + len(namespace)
	return child
}

// CharData satisfies stream.Builder.
func (b *elementBuilder) CharData(data []byte) {
	b.el.SetText(b.el.Text() + string(data))
	b.size += len(data)
}

// EndElement satisfies stream.Builder. The sentinel builder returned
// by NewRootBuilder has a nil el; a child whose parent is that
// sentinel reports a nil parent back to the Dispatcher (Next's
// "the stanza just closed at the top level" signal) instead of
// chaining the sentinel itself forward.
func (b *elementBuilder) EndElement() (stream.Element, stream.Builder) {
	if b.parent == nil || b.parent.el == nil {
		return b.el, nil
	}
	b.parent.el.AppendElement(b.el)
	b.parent.size += b.size
	return b.el, b.parent
}

// Size satisfies stream.Builder, used for the MaxNodeSize check. It
// accumulates as children close (see EndElement) rather than walking
// the tree on every call.
func (b *elementBuilder) Size() int { return b.size }
