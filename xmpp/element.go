/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package xmpp implements the stanza model: a mutable XML element tree
// plus typed wrappers for <message/>, <presence/> and <iq/>.
package xmpp

import (
	"fmt"
	"io"
	"strings"
)

// XElement is the interface satisfied by every node in a parsed stanza
// tree. A stanza (Message, Presence, IQ) embeds Element and so also
// satisfies XElement.
type XElement interface {
	Name() string
	Namespace() string
	Attributes() AttributeSet
	Elements() ElementSet
	Text() string

	ID() string
	To() string
	From() string
	Type() string
	Language() string
	Version() string

	ToXML(w io.Writer, includeClosing bool)
	String() string
}

// Attribute is a single XML attribute.
type Attribute struct {
	Label string
	Value string
}

// AttributeSet is the read accessor for an element's attributes.
type AttributeSet interface {
	Get(label string) string
	Count() int
	All() []Attribute
}

type attributeSet []Attribute

func (as attributeSet) Get(label string) string {
	for _, a := range as {
		if a.Label == label {
			return a.Value
		}
	}
	return ""
}
func (as attributeSet) Count() int          { return len(as) }
func (as attributeSet) All() []Attribute    { return as }

// ElementSet is the read accessor for an element's children.
type ElementSet interface {
	Child(name string) XElement
	Children(name string) []XElement
	ChildNamespace(name, namespace string) XElement
	ChildrenNamespace(name, namespace string) []XElement
	All() []XElement
	Count() int
}

type elementSet []XElement

func (es elementSet) Child(name string) XElement {
	for _, e := range es {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

func (es elementSet) Children(name string) []XElement {
	var ret []XElement
	for _, e := range es {
		if e.Name() == name {
			ret = append(ret, e)
		}
	}
	return ret
}

func (es elementSet) ChildNamespace(name, namespace string) XElement {
	for _, e := range es {
		if e.Name() == name && e.Namespace() == namespace {
			return e
		}
	}
	return nil
}

func (es elementSet) ChildrenNamespace(name, namespace string) []XElement {
	var ret []XElement
	for _, e := range es {
		if e.Name() == name && e.Namespace() == namespace {
			ret = append(ret, e)
		}
	}
	return ret
}

func (es elementSet) All() []XElement { return es }
func (es elementSet) Count() int      { return len(es) }

// Element is the concrete, mutable XML node implementation. Ownership
// of a tree passes by value-assignment of the owning pointer: once a
// component hands an *Element to another (e.g. the router delivering a
// packet into a handler chain), the sender must not touch it again.
type Element struct {
	name       string
	namespace  string
	text       string
	attrs      attributeSet
	elements   elementSet
}

// NewElementName creates an empty element with the given name.
func NewElementName(name string) *Element {
	return &Element{name: name}
}

// NewElementNamespace creates an empty element with name and namespace.
func NewElementNamespace(name, namespace string) *Element {
	return &Element{name: name, namespace: namespace}
}

// NewElementFromElement creates a detached copy of src.
func NewElementFromElement(src XElement) *Element {
	e := &Element{}
	e.copyFrom(src)
	return e
}

func (e *Element) copyFrom(src XElement) {
	e.name = src.Name()
	e.namespace = src.Namespace()
	e.text = src.Text()
	for _, a := range src.Attributes().All() {
		e.attrs = append(e.attrs, a)
	}
	for _, c := range src.Elements().All() {
		e.elements = append(e.elements, NewElementFromElement(c))
	}
}

// Name returns the element's local name.
func (e *Element) Name() string { return e.name }

// SetName sets the element's local name.
func (e *Element) SetName(name string) { e.name = name }

// Namespace returns the element's xmlns attribute value.
func (e *Element) Namespace() string { return e.namespace }

// SetNamespace sets the element's xmlns attribute value.
func (e *Element) SetNamespace(ns string) { e.namespace = ns }

// Text returns the element's character data.
func (e *Element) Text() string { return e.text }

// SetText sets the element's character data.
func (e *Element) SetText(text string) { e.text = text }

// Attributes returns the element's attribute set.
func (e *Element) Attributes() AttributeSet { return e.attrs }

// SetAttribute sets (or replaces) an attribute value.
func (e *Element) SetAttribute(label, value string) {
	for i, a := range e.attrs {
		if a.Label == label {
			e.attrs[i].Value = value
			return
		}
	}
	e.attrs = append(e.attrs, Attribute{Label: label, Value: value})
}

// RemoveAttribute removes an attribute if present.
func (e *Element) RemoveAttribute(label string) {
	for i, a := range e.attrs {
		if a.Label == label {
			e.attrs = append(e.attrs[:i], e.attrs[i+1:]...)
			return
		}
	}
}

// Elements returns the element's child set.
func (e *Element) Elements() ElementSet { return e.elements }

// AppendElement appends a single child.
func (e *Element) AppendElement(child XElement) {
	e.elements = append(e.elements, child)
}

// AppendElements appends every child in els.
func (e *Element) AppendElements(els []XElement) {
	e.elements = append(e.elements, els...)
}

// RemoveElements removes every child with the given name ("hide" in
// jabberd14 terms — a functional update rather than an arena soft-delete).
func (e *Element) RemoveElements(name string) {
	filtered := e.elements[:0]
	for _, c := range e.elements {
		if c.Name() != name {
			filtered = append(filtered, c)
		}
	}
	e.elements = filtered
}

// ID returns the "id" attribute.
func (e *Element) ID() string { return e.attrs.Get("id") }

// SetID sets the "id" attribute.
func (e *Element) SetID(id string) { e.SetAttribute("id", id) }

// To returns the "to" attribute.
func (e *Element) To() string { return e.attrs.Get("to") }

// SetTo sets the "to" attribute.
func (e *Element) SetTo(to string) { e.SetAttribute("to", to) }

// From returns the "from" attribute.
func (e *Element) From() string { return e.attrs.Get("from") }

// SetFrom sets the "from" attribute.
func (e *Element) SetFrom(from string) { e.SetAttribute("from", from) }

// Type returns the "type" attribute.
func (e *Element) Type() string { return e.attrs.Get("type") }

// SetType sets the "type" attribute.
func (e *Element) SetType(typ string) { e.SetAttribute("type", typ) }

// Language returns the "xml:lang" attribute.
func (e *Element) Language() string { return e.attrs.Get("xml:lang") }

// Version returns the "version" attribute.
func (e *Element) Version() string { return e.attrs.Get("version") }

// ToXML serializes the element to w. If includeClosing is false and the
// element has no children and no text, a self-closing tag is written
// regardless (jackal/jabberd both always self-close empty elements).
func (e *Element) ToXML(w io.Writer, includeClosing bool) {
	fmt.Fprintf(w, "<%s", e.name)
	if e.namespace != "" && e.attrs.Get("xmlns") == "" {
		fmt.Fprintf(w, ` xmlns="%s"`, escape(e.namespace))
	}
	for _, a := range e.attrs {
		fmt.Fprintf(w, ` %s="%s"`, a.Label, escape(a.Value))
	}
	if len(e.elements) == 0 && e.text == "" {
		io.WriteString(w, "/>")
		return
	}
	io.WriteString(w, ">")
	if e.text != "" {
		io.WriteString(w, escape(e.text))
	}
	for _, c := range e.elements {
		c.ToXML(w, true)
	}
	if includeClosing {
		fmt.Fprintf(w, "</%s>", e.name)
	}
}

// String renders the element as a self-contained XML fragment.
func (e *Element) String() string {
	var sb strings.Builder
	e.ToXML(&sb, true)
	return sb.String()
}

func escape(s string) string {
	r := strings.NewReplacer(
		`&`, "&amp;",
		`<`, "&lt;",
		`>`, "&gt;",
		`"`, "&quot;",
		`'`, "&apos;",
	)
	return r.Replace(s)
}
