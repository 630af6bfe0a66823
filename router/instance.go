/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package router

// Type selects which classifications the router will route to an
// Instance (spec.md §3 "Instance").
type Type int

const (
	// TypeNormal handles message/presence/s10n/iq packets addressed to
	// its bound domain(s).
	TypeNormal Type = iota
	// TypeXDB is the storage component every XDB request/reply routes to.
	TypeXDB
	// TypeLog is the sink every log-classified packet routes to.
	TypeLog
)

// Instance is a runtime component binding (spec.md §3 "Instance",
// §2 "components").
type Instance struct {
	ID    string
	Type  Type
	Chain *Chain
}

// NewInstance creates an instance bound to id with an empty chain.
func NewInstance(id string, typ Type) *Instance {
	return &Instance{ID: id, Type: typ, Chain: NewChain()}
}
