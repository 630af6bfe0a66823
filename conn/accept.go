/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package conn

import (
	"encoding/xml"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/log"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/sched"
	"github.com/ortuman/jabberwire/xmpp"
	"github.com/ortuman/jabberwire/xmpp/stream"
	"github.com/pborman/uuid"
)

const (
	stateHandshaking int32 = iota
	stateReady
	stateClosed
)

// BounceFunc is called for a queued stanza that outlived queueTimeout
// with no live link to flush it over (base_accept.cc's
// base_accept_offline, generalized past its XEP-0091-era "store only
// message/s10n" restriction to whatever the caller wants done with an
// undeliverable stanza — typically routing it back through
// router.Router so the ordinary bounce/offline-queue path applies).
type BounceFunc func(el xmpp.XElement)

type queuedStanza struct {
	el    xmpp.XElement
	stamp time.Time
}

// component is one configured external component's live-link state.
type component struct {
	id     string
	secret string

	mu       sync.Mutex
	conn     net.Conn
	state    int32
	streamID string
	queue    []queuedStanza
}

const defaultHandshakeTimeout = 5 * time.Second

// AcceptConnector is the accept side of a XEP-0114 component
// connection: it listens, performs the SHA1 handshake, binds a
// router.Instance per registered component id, queues outbound
// stanzas while no link is up, flushes the queue the moment a link
// authenticates, and overrides (never refuses) a reconnecting
// component per base_accept.cc's conflict handling.
type AcceptConnector struct {
	rtr              *router.Router
	sch              *sched.Scheduler
	queueTimeout     time.Duration
	handshakeTimeout time.Duration
	bounce           BounceFunc

	mu    sync.RWMutex
	comps map[string]*component
}

// NewAcceptConnector builds an AcceptConnector routing Deliver-phase
// traffic through rtr and sweeping stale queue entries older than
// queueTimeout every 10s via sch (base_accept.cc's base_accept_beat,
// default timeout 10s). handshakeTimeout bounds how long a connecting
// component has to send its <handshake/> once the stream is open
// (spec.md §4.5 step 2); zero falls back to the 5s default.
func NewAcceptConnector(rtr *router.Router, sch *sched.Scheduler, queueTimeout, handshakeTimeout time.Duration, bounce BounceFunc) *AcceptConnector {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	a := &AcceptConnector{
		rtr:              rtr,
		sch:              sch,
		queueTimeout:     queueTimeout,
		handshakeTimeout: handshakeTimeout,
		bounce:           bounce,
		comps:            make(map[string]*component),
	}
	sch.Every("conn:accept:sweep", 10*time.Second, a.sweep)
	return a
}

// RegisterComponent configures a component allowed to connect under
// id, and binds a router.Instance forwarding every Deliver-phase
// packet addressed to id onto the live (or queued) link.
func (a *AcceptConnector) RegisterComponent(id, secret string) {
	c := &component{id: id, secret: secret, state: stateHandshaking}
	a.mu.Lock()
	a.comps[id] = c
	a.mu.Unlock()

	inst := router.NewInstance(id, router.TypeNormal)
	inst.Chain.Register(router.Deliver, func(pkt *router.Packet) router.Result {
		c.send(pkt.Element)
		return router.Done
	})
	a.rtr.RegisterInstance(inst)
}

// Serve accepts connections off ln until it returns an error (listener
// closed). Each connection is handled on its own goroutine.
func (a *AcceptConnector) Serve(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			return err
		}
		go a.handleConn(nc)
	}
}

func (a *AcceptConnector) handleConn(nc net.Conn) {
	streamID := uuid.New()
	dec := xml.NewDecoder(nc)
	disp := stream.NewDispatcher(dec, stream.DefaultLimits(), xmpp.NewRootBuilder)

	var comp *component
	authenticated := false
	for {
		ev, err := disp.Next()
		if err != nil {
			if !authenticated && comp != nil && isTimeout(err) {
				fmt.Fprint(nc, `<stream:error><connection-timeout xmlns="urn:ietf:params:xml:ns:xmpp-streams"/></stream:error></stream:stream>`)
			}
			if comp != nil {
				comp.drop(nc)
			}
			nc.Close()
			return
		}
		switch ev.Kind {
		case stream.Root:
			fmt.Fprintf(nc, `<stream:stream xmlns="jabber:component:accept" xmlns:stream="http://etherx.jabber.org/streams" id="%s">`, streamID)
			comp = a.lookup(ev.Element.To())
			if comp == nil {
				fmt.Fprint(nc, `<stream:error><host-unknown xmlns="urn:ietf:params:xml:ns:xmpp-streams"/></stream:error></stream:stream>`)
				nc.Close()
				return
			}
			// Handshake has a to-read deadline (spec.md §4.5 step 2);
			// cleared once the component authenticates below.
			_ = nc.SetReadDeadline(time.Now().Add(a.handshakeTimeout))

		case stream.Node:
			el, ok := ev.Element.(xmpp.XElement)
			if !ok || comp == nil {
				continue
			}
			if !authenticated {
				if el.Name() != "handshake" || el.Text() != handshake(streamID, comp.secret) {
					fmt.Fprint(nc, `<stream:error><not-authorized xmlns="urn:ietf:params:xml:ns:xmpp-streams"/></stream:error></stream:stream>`)
					nc.Close()
					return
				}
				_ = nc.SetReadDeadline(time.Time{})
				comp.accept(nc, streamID)
				authenticated = true
				continue
			}
			pkt := router.NewPacket(el, jidFromAttr(el.To()), jidFromAttr(el.From()))
			if err := a.rtr.Route(pkt); err != nil {
				log.Debugf("conn: route from component %q failed: %v", comp.id, err)
			}

		case stream.Close:
			if comp != nil {
				comp.drop(nc)
			}
			nc.Close()
			return
		}
	}
}

// isTimeout reports whether err is a net.Error deadline expiry, as
// opposed to an ordinary close or malformed-stream error.
func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// jidFromAttr parses a "to"/"from" stanza attribute, returning nil
// (rather than an error) for the common "server route, no explicit
// JID" case — Classify/Route only need a non-nil JID when present.
func jidFromAttr(s string) *jid.JID {
	if s == "" {
		return nil
	}
	j, err := jid.NewString(s, false)
	if err != nil {
		return nil
	}
	return j
}

func (a *AcceptConnector) lookup(to string) *component {
	bare, err := jid.NewString(to, false)
	if err != nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.comps[bare.Domain()]
}

// accept hooks nc up as comp's live link, overriding (and closing) any
// existing one first, sends the handshake confirmation, and flushes
// whatever queued while nobody was connected (base_accept.cc's
// handshake-success branch). Used by AcceptConnector, which owes the
// peer a confirmation; ConnectConnector (the side that already
// received one) calls markReady directly instead.
func (c *component) accept(nc net.Conn, streamID string) {
	fmt.Fprint(nc, `<handshake/>`)
	c.markReady(nc, streamID)
}

// markReady hooks nc up as comp's live link and flushes its queue,
// without sending a handshake confirmation of its own.
func (c *component) markReady(nc net.Conn, streamID string) {
	c.mu.Lock()
	if c.conn != nil {
		log.Warnf("conn: component %q overridden by new link", c.id)
		fmt.Fprint(c.conn, `<stream:error><conflict xmlns="urn:ietf:params:xml:ns:xmpp-streams"/></stream:error></stream:stream>`)
		c.conn.Close()
	}
	c.conn = nc
	c.streamID = streamID
	atomic.StoreInt32(&c.state, stateReady)
	queue := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, q := range queue {
		fmt.Fprint(nc, q.el.String())
	}
}

// close shuts down the live link under lock, used by ConnectConnector.Stop.
func (c *component) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *component) drop(nc net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nc {
		c.conn = nil
		atomic.StoreInt32(&c.state, stateHandshaking)
	}
}

// send writes el straight to the live link, or queues it for the next
// one (base_accept_deliver).
func (c *component) send(el xmpp.XElement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if atomic.LoadInt32(&c.state) == stateReady && c.conn != nil {
		fmt.Fprint(c.conn, el.String())
		return
	}
	c.queue = append(c.queue, queuedStanza{el: el, stamp: time.Now()})
}

// sweep bounces any queue entry older than queueTimeout
// (base_accept_beat's stale-queue pass).
func (a *AcceptConnector) sweep() {
	a.mu.RLock()
	comps := make([]*component, 0, len(a.comps))
	for _, c := range a.comps {
		comps = append(comps, c)
	}
	a.mu.RUnlock()

	cutoff := time.Now().Add(-a.queueTimeout)
	for _, c := range comps {
		c.mu.Lock()
		var kept []queuedStanza
		var stale []queuedStanza
		for _, q := range c.queue {
			if q.stamp.Before(cutoff) {
				stale = append(stale, q)
			} else {
				kept = append(kept, q)
			}
		}
		c.queue = kept
		c.mu.Unlock()
		if a.bounce == nil {
			continue
		}
		for _, q := range stale {
			a.bounce(q.el)
		}
	}
}
