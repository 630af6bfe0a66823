/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package conn

import (
	"context"
	"encoding/xml"
	"fmt"
	"net"
	"time"

	"github.com/ortuman/jabberwire/log"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/sched"
	"github.com/ortuman/jabberwire/xmpp"
	"github.com/ortuman/jabberwire/xmpp/stream"
)

// retryBackoff is how long ConnectConnector waits before redialing a
// component that dropped or refused its handshake (spec.md §4.5,
// "5s backoff").
const retryBackoff = 5 * time.Second

// ConnectConnector is the connect side of a XEP-0114 link: jabberwired
// dials remoteDomain, opens a stream, sends the SHA1 handshake, and on
// success binds a router.Instance forwarding Deliver-phase packets
// onto the socket exactly like AcceptConnector's component.send. On
// any failure it retries after retryBackoff via sched.Scheduler,
// mirroring the teacher's own reconnect idiom (c2s.go's
// time.AfterFunc(cfg.ConnectTimeout, s.connectTimeout), generalized to
// a named, cancelable retry loop instead of a one-shot timer).
type ConnectConnector struct {
	domain string
	secret string
	dialer Dialer
	rtr    *router.Router
	sch    *sched.Scheduler

	conn *component
}

// NewConnectConnector builds a ConnectConnector that dials domain,
// authenticates with secret, and keeps redialing until Stop is called.
func NewConnectConnector(domain, secret string, dialer Dialer, rtr *router.Router, sch *sched.Scheduler) *ConnectConnector {
	c := &ConnectConnector{
		domain: domain,
		secret: secret,
		dialer: dialer,
		rtr:    rtr,
		sch:    sch,
		conn:   &component{id: domain, secret: secret, state: stateHandshaking},
	}
	inst := router.NewInstance(domain, router.TypeNormal)
	inst.Chain.Register(router.Deliver, func(pkt *router.Packet) router.Result {
		c.conn.send(pkt.Element)
		return router.Done
	})
	rtr.RegisterInstance(inst)
	return c
}

// Start dials in the background, redialing with retryBackoff between
// attempts until Stop is called.
func (c *ConnectConnector) Start() {
	go c.dialLoop()
}

// Stop cancels any pending redial and closes the current link, if any.
func (c *ConnectConnector) Stop() {
	c.sch.Cancel("conn:connect:" + c.domain)
	c.conn.close()
}

func (c *ConnectConnector) dialLoop() {
	if err := c.dialOnce(); err != nil {
		log.Warnf("conn: dial %q failed: %v", c.domain, err)
		c.sch.After("conn:connect:"+c.domain, retryBackoff, c.dialLoop)
	}
}

func (c *ConnectConnector) dialOnce() error {
	ctx, cancel := context.WithTimeout(context.Background(), retryBackoff)
	defer cancel()
	nc, err := c.dialer.Dial(ctx, c.domain)
	if err != nil {
		return err
	}

	fmt.Fprintf(nc, `<stream:stream xmlns="jabber:component:accept" xmlns:stream="http://etherx.jabber.org/streams" to="%s">`, c.domain)

	dec := xml.NewDecoder(nc)
	disp := stream.NewDispatcher(dec, stream.DefaultLimits(), xmpp.NewRootBuilder)

	// The remote's opening <stream:stream id="..."/> carries the stream
	// ID the handshake hash is computed over (XEP-0114).
	ev, err := disp.Next() // Root
	if err != nil {
		nc.Close()
		return err
	}
	root, ok := ev.Element.(xmpp.XElement)
	if !ok || root.Attributes().Get("id") == "" {
		nc.Close()
		return fmt.Errorf("conn: no stream id from %q", c.domain)
	}
	streamID := root.Attributes().Get("id")
	fmt.Fprintf(nc, `<handshake>%s</handshake>`, handshake(streamID, c.secret))

	ev, err = disp.Next() // expect <handshake/> confirmation
	if err != nil {
		nc.Close()
		return err
	}
	el, ok := ev.Element.(xmpp.XElement)
	if !ok || el.Name() != "handshake" {
		nc.Close()
		return fmt.Errorf("conn: handshake rejected by %q", c.domain)
	}

	c.conn.markReady(nc, streamID)
	go c.readLoop(nc, disp)
	return nil
}

// readLoop pumps the connection's stream: inbound stanzas from a
// dialed-out component are routed the same way AcceptConnector's
// would be, through rtr, and on closure/error the link is dropped and
// a redial is scheduled after retryBackoff.
func (c *ConnectConnector) readLoop(nc net.Conn, disp *stream.Dispatcher) {
	for {
		ev, err := disp.Next()
		if err != nil {
			c.conn.drop(nc)
			nc.Close()
			c.sch.After("conn:connect:"+c.domain, retryBackoff, c.dialLoop)
			return
		}
		if ev.Kind != stream.Node {
			continue
		}
		el, ok := ev.Element.(xmpp.XElement)
		if !ok {
			continue
		}
		pkt := router.NewPacket(el, jidFromAttr(el.To()), jidFromAttr(el.From()))
		if err := c.rtr.Route(pkt); err != nil {
			log.Debugf("conn: route from %q failed: %v", c.domain, err)
		}
	}
}
