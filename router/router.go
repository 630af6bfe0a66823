/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package router

import (
	"strings"
	"sync"

	"github.com/ortuman/jabberwire/log"
	"github.com/ortuman/jabberwire/xmpp"
)

// Router is the in-process stanza router (spec.md §4.1). It classifies
// every packet, selects exactly one destination instance, and invokes
// that instance's handler chain.
type Router struct {
	mu            sync.RWMutex
	byDomain      map[string]*Instance
	defaultNormal *Instance
	xdbInstance   *Instance
	logInstance   *Instance
}

var (
	instMu sync.RWMutex
	inst   *Router
)

// Instance returns the process-wide router singleton, lazily creating
// it on first access — matching the teacher's `router.Instance()`
// package-level singleton-accessor idiom used throughout c2s.go.
func Instance() *Router {
	instMu.RLock()
	if inst != nil {
		r := inst
		instMu.RUnlock()
		return r
	}
	instMu.RUnlock()

	instMu.Lock()
	defer instMu.Unlock()
	if inst == nil {
		inst = newRouter()
	}
	return inst
}

// SetInstance overrides the singleton — used by tests that need an
// isolated Router rather than the process-wide one.
func SetInstance(r *Router) {
	instMu.Lock()
	defer instMu.Unlock()
	inst = r
}

func newRouter() *Router {
	return &Router{byDomain: make(map[string]*Instance)}
}

// New builds a standalone Router (for tests).
func New() *Router { return newRouter() }

// RegisterInstance binds inst to its domain (spec.md §4.2). Re-registering
// the same (domain, instance) pair is idempotent.
func (r *Router) RegisterInstance(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDomain[inst.ID] = inst
	log.Infof("router: registered instance %q (type=%d)", inst.ID, inst.Type)
}

// UnregisterInstance removes the binding for domain. Unregistering a
// domain with no binding is a no-op. In-flight packets already inside
// the instance's chain run to completion (spec.md §4.2) because Invoke
// snapshots the chain, not the registry.
func (r *Router) UnregisterInstance(domain string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byDomain, domain)
}

// SetDefaultNormal designates inst as the fallback destination for
// message/presence/s10n/iq packets addressed to a local domain with no
// exact or suffix match (spec.md §4.1 "route to the configured default
// (session manager for messages/presence/iq to local users)").
func (r *Router) SetDefaultNormal(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultNormal = inst
}

// SetXDBInstance designates the storage component every XDB-classified
// packet routes to.
func (r *Router) SetXDBInstance(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.xdbInstance = inst
}

// SetLogInstance designates the sink every log-classified packet routes to.
func (r *Router) SetLogInstance(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logInstance = inst
}

// IsLocalDomain reports whether domain (or a suffix ancestor of it) has
// a registered instance, or is the default-normal instance's domain.
func (r *Router) IsLocalDomain(domain string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(domain) != nil || (r.defaultNormal != nil && r.defaultNormal.ID == domain)
}

func (r *Router) lookupLocked(domain string) *Instance {
	if inst, ok := r.byDomain[domain]; ok {
		return inst
	}
	// longest-suffix match: a.b.example.com falls back to example.com
	// if that exact component is registered (spec.md §4.1).
	var best *Instance
	bestLen := -1
	for d, inst := range r.byDomain {
		if d == domain {
			continue
		}
		if strings.HasSuffix(domain, "."+d) && len(d) > bestLen {
			best, bestLen = inst, len(d)
		}
	}
	return best
}

func (r *Router) destination(pkt *Packet) *Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch pkt.Class {
	case ClassXDB:
		return r.xdbInstance
	case ClassLog:
		return r.logInstance
	default:
		if inst := r.lookupLocked(pkt.Host); inst != nil {
			return inst
		}
		return r.defaultNormal
	}
}

// Route delivers pkt to exactly one instance's handler chain, or fails
// it, per spec.md §4.1's failure semantics.
func (r *Router) Route(pkt *Packet) error {
	dest := r.destination(pkt)
	if dest == nil {
		return r.unrouted(pkt)
	}
	switch dest.Chain.Invoke(pkt) {
	case Done:
		return nil
	case Err:
		r.bounce(pkt)
		return ErrHandlerFailed
	default: // Pass reaching the end of Deliver: treat as unrouted.
		return r.unrouted(pkt)
	}
}

func (r *Router) unrouted(pkt *Packet) error {
	r.mu.RLock()
	fromLocal := pkt.From != nil && r.lookupLocked(pkt.From.Domain()) != nil
	r.mu.RUnlock()
	if fromLocal {
		r.bounce(pkt)
	}
	return ErrResourceNotFound
}

// bounce sends a single delivery-failure error back to pkt's sender,
// unless the packet already carries type="error" (spec.md §4.1 "never
// bounce an error").
func (r *Router) bounce(pkt *Packet) {
	if pkt.Element.Type() == xmpp.ErrorType {
		return
	}
	if pkt.From == nil || pkt.To == nil {
		return
	}
	errEl := xmpp.NewErrorElementFromElement(pkt.Element, xmpp.ErrServiceUnavailable502, nil)
	bouncePkt := &Packet{
		Element: errEl,
		To:      pkt.From,
		From:    pkt.To,
		Class:   Classify(errEl),
		Host:    pkt.From.Domain(),
	}
	if err := r.Route(bouncePkt); err != nil {
		log.Debugf("router: bounce undeliverable: %v", err)
	}
}
