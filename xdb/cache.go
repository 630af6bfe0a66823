/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package xdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/log"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/xmpp"
)

const (
	// DefaultResendAfter is how long a waiter sits before its request is
	// resent (spec.md §4.3 timeout sweep).
	DefaultResendAfter = 10 * time.Second
	// DefaultHardTimeout is how long a waiter sits before it is expired
	// and its caller woken with an empty/error result.
	DefaultHardTimeout = 30 * time.Second
	// DefaultSweepInterval is how often the ring is swept.
	DefaultSweepInterval = 10 * time.Second
)

type reply struct {
	payload xmpp.XElement
	match   bool
	err     error
}

// waiter is one entry in the cache's ring (spec.md §3 "XDB waiter").
type waiter struct {
	id          string
	owner       *jid.JID
	ns          string
	action      Action
	requestTime time.Time
	resultCh    chan reply
	req         *xmpp.Element
}

// Cache implements the blocking get/set API over the router (spec.md
// §4.3). It registers a single PreCond handler on the shared XDB
// instance's chain to intercept its own replies before the storage
// component's Deliver-phase handler ever sees them.
type Cache struct {
	selfDomain string
	inst       *router.Instance

	mu      sync.Mutex
	waiters map[string]*waiter
	nextID  uint64

	resendAfter   time.Duration
	hardTimeout   time.Duration
	sweepInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCache builds a Cache that issues requests "from" selfDomain and
// registers its reply matcher on inst (the shared XDB instance), using
// the package's default resend/timeout/sweep durations.
func NewCache(selfDomain string, inst *router.Instance) *Cache {
	return NewCacheWithTimeouts(selfDomain, inst, DefaultResendAfter, DefaultHardTimeout, DefaultSweepInterval)
}

// NewCacheWithTimeouts is NewCache with the resend/hard-timeout/sweep
// durations overridden, letting cmd/jabberwired apply config.XDBConfig
// without exposing the underlying fields for mutation after start-up.
func NewCacheWithTimeouts(selfDomain string, inst *router.Instance, resendAfter, hardTimeout, sweepInterval time.Duration) *Cache {
	c := &Cache{
		selfDomain:    selfDomain,
		inst:          inst,
		waiters:       make(map[string]*waiter),
		resendAfter:   resendAfter,
		hardTimeout:   hardTimeout,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
	inst.Chain.Register(router.PreCond, c.handleReply)
	go c.sweepLoop()
	return c
}

// Close stops the timeout-sweep goroutine.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Cache) newID() string {
	return fmt.Sprintf("xdb%d", atomic.AddUint64(&c.nextID, 1))
}

// Get issues a blocking get(owner, namespace) request (spec.md §4.3).
// A nil payload and nil error both mean "no data stored" — the ⊥ result
// in spec.md's get(owner, namespace) → xml | ⊥ signature.
func (c *Cache) Get(ctx context.Context, owner *jid.JID, ns string) (xmpp.XElement, error) {
	el := xmpp.NewElementName("xdb")
	el.SetAttribute("type", "get")
	el.SetAttribute("to", owner.String())
	el.SetAttribute("from", c.selfDomain)
	el.SetAttribute("ns", ns)

	w := c.register(el, owner, ns, ActionReplace)
	c.send(w)

	select {
	case r := <-w.resultCh:
		return r.payload, r.err
	case <-ctx.Done():
		c.forget(w.id)
		return nil, ctx.Err()
	}
}

// Set issues a blocking set(owner, namespace, xml) request, optionally
// carrying the extended insert/check action grammar (spec.md §4.3).
func (c *Cache) Set(ctx context.Context, owner *jid.JID, ns string, payload xmpp.XElement, opts ...SetOption) error {
	el := xmpp.NewElementName("xdb")
	el.SetAttribute("type", "set")
	el.SetAttribute("to", owner.String())
	el.SetAttribute("from", c.selfDomain)
	el.SetAttribute("ns", ns)
	if payload != nil {
		el.AppendElement(payload)
	}
	for _, opt := range opts {
		opt(el)
	}
	action := Action(el.Attributes().Get("action"))

	w := c.register(el, owner, ns, action)
	c.send(w)

	select {
	case r := <-w.resultCh:
		if action == ActionCheck && r.err == nil && !r.match {
			return ErrCheckMismatch
		}
		return r.err
	case <-ctx.Done():
		c.forget(w.id)
		return ctx.Err()
	}
}

func (c *Cache) register(el *xmpp.Element, owner *jid.JID, ns string, action Action) *waiter {
	id := c.newID()
	el.SetAttribute("id", id)
	w := &waiter{
		id:          id,
		owner:       owner,
		ns:          ns,
		action:      action,
		requestTime: time.Now(),
		resultCh:    make(chan reply, 1),
		req:         el,
	}
	c.mu.Lock()
	c.waiters[id] = w
	c.mu.Unlock()
	return w
}

func (c *Cache) forget(id string) {
	c.mu.Lock()
	delete(c.waiters, id)
	c.mu.Unlock()
}

func (c *Cache) send(w *waiter) {
	pkt := &router.Packet{
		Element: w.req,
		To:      w.owner,
		Class:   router.ClassXDB,
		Host:    w.owner.Domain(),
	}
	if err := router.Instance().Route(pkt); err != nil {
		log.Debugf("xdb: request %s not yet routable: %v", w.id, err)
	}
}

// handleReply is the PreCond handler registered on the shared XDB
// instance: it intercepts type="result"/"error" replies matching a
// pending waiter's id, atomically removing it from the ring and
// signaling its caller (spec.md §4.3 "the matching operation is
// removal-by-id + signal, atomic with respect to insertion").
func (c *Cache) handleReply(pkt *router.Packet) router.Result {
	el := pkt.Element
	if el.Name() != "xdb" {
		return router.Pass
	}
	typ := el.Type()
	if typ != xmpp.ResultType && typ != xmpp.ErrorType {
		return router.Pass
	}
	id := el.ID()

	c.mu.Lock()
	w, ok := c.waiters[id]
	if ok {
		delete(c.waiters, id)
	}
	c.mu.Unlock()
	if !ok {
		return router.Pass
	}

	if typ == xmpp.ErrorType {
		w.resultCh <- reply{err: ErrStorageFailure}
		return router.Done
	}
	switch w.req.Type() {
	case "get":
		var payload xmpp.XElement
		if children := el.Elements().All(); len(children) > 0 {
			payload = children[0]
		}
		w.resultCh <- reply{payload: payload}
	case "set":
		match := el.Attributes().Get("match") != "false"
		w.resultCh <- reply{match: match}
	}
	return router.Done
}

// sweepLoop runs the 10-second timeout sweep (spec.md §4.3).
func (c *Cache) sweepLoop() {
	t := time.NewTicker(c.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	var expired, resend []*waiter

	c.mu.Lock()
	for id, w := range c.waiters {
		age := now.Sub(w.requestTime)
		if age > c.hardTimeout {
			delete(c.waiters, id)
			expired = append(expired, w)
		} else if age > c.resendAfter {
			resend = append(resend, w)
		}
	}
	c.mu.Unlock()

	for _, w := range expired {
		log.Warnf("xdb: waiter %s expired after %s", w.id, c.hardTimeout)
		if w.req.Type() == "set" {
			w.resultCh <- reply{err: ErrTimeout}
		} else {
			w.resultCh <- reply{}
		}
	}
	for _, w := range resend {
		log.Debugf("xdb: resending request %s", w.id)
		c.send(w)
	}
}
