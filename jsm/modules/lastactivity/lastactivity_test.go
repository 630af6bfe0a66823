/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package lastactivity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/jsm"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/xdb"
	"github.com/ortuman/jabberwire/xmpp"
	"github.com/stretchr/testify/require"
)

// fakeStorage is the same minimal in-memory XDB storage idiom used by
// xdb.Cache's own tests and jsm's, duplicated here since it is test-only
// scaffolding for a different package.
type fakeStorage struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeStorage(inst *router.Instance) *fakeStorage {
	s := &fakeStorage{data: make(map[string]string)}
	inst.Chain.Register(router.Deliver, s.handle)
	return s
}

func (s *fakeStorage) handle(pkt *router.Packet) router.Result {
	el := pkt.Element
	if el.Name() != "xdb" {
		return router.Pass
	}
	key := el.Attributes().Get("to") + "|" + el.Attributes().Get("ns")
	resp := xmpp.NewElementFromElement(el)
	resp.SetType(xmpp.ResultType)
	resp.SetTo(el.Attributes().Get("from"))
	resp.SetFrom(el.Attributes().Get("to"))

	switch el.Type() {
	case "get":
		s.mu.Lock()
		text, ok := s.data[key]
		s.mu.Unlock()
		if ok {
			payload := xmpp.NewElementName("payload")
			payload.SetText(text)
			resp.AppendElement(payload)
		}
	case "set":
		var text string
		if children := el.Elements().All(); len(children) > 0 {
			text = children[0].Text()
		}
		s.mu.Lock()
		s.data[key] = text
		s.mu.Unlock()
	}
	if err := router.Instance().Route(&router.Packet{Element: resp, Class: router.ClassXDB}); err != nil {
		return router.Pass
	}
	return router.Done
}

type harness struct {
	j  *jsm.JSM
	rtr *router.Router
	la *LastActivity
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	r := router.New()
	router.SetInstance(r)

	xdbInst := router.NewInstance("xdb.jabberwire.im", router.TypeXDB)
	r.RegisterInstance(xdbInst)
	r.SetXDBInstance(xdbInst)
	newFakeStorage(xdbInst)

	cache := xdb.NewCache("jabberwire.im", xdbInst)
	t.Cleanup(cache.Close)

	j := jsm.New("jabberwire.im", &jsm.Config{}, r, cache)
	j.BindRouter("jabberwire.im")

	la := New(j, cache)
	j.RegisterIQHandler(la)

	return &harness{j: j, rtr: r, la: la}
}

type fakeDeliverer struct {
	id   string
	jid  *jid.JID
	ctx  *router.Context
	mu   sync.Mutex
	sent []xmpp.XElement
}

func newFakeDeliverer(j *jid.JID) *fakeDeliverer {
	return &fakeDeliverer{id: j.String(), jid: j, ctx: router.NewContext()}
}

func (d *fakeDeliverer) ID() string              { return d.id }
func (d *fakeDeliverer) JID() *jid.JID            { return d.jid }
func (d *fakeDeliverer) Resource() string         { return d.jid.Resource() }
func (d *fakeDeliverer) Context() *router.Context { return d.ctx }
func (d *fakeDeliverer) Disconnect(err error)     { d.ctx.Terminate() }
func (d *fakeDeliverer) SendElement(el xmpp.XElement) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, el)
}

func (d *fakeDeliverer) last() xmpp.XElement {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sent) == 0 {
		return nil
	}
	return d.sent[len(d.sent)-1]
}

func (d *fakeDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func mustJID(t *testing.T, s string) *jid.JID {
	t.Helper()
	j, err := jid.NewString(s, false)
	require.NoError(t, err)
	return j
}

func TestLastActivityServerQueryReturnsUptime(t *testing.T) {
	h := newHarness(t)
	from := mustJID(t, "romeo@jabberwire.im/orchard")
	d := newFakeDeliverer(from)
	h.j.EstablishSession(from, d)

	domain := mustJID(t, "jabberwire.im")
	iq := xmpp.NewIQType("last1", xmpp.GetType)
	iq.SetTo(domain.String())
	iq.SetFrom(from.String())
	iq.AppendElement(xmpp.NewElementNamespace("query", namespace))

	require.NoError(t, h.rtr.Route(router.NewPacket(iq, domain, from)))
	require.Equal(t, 1, d.count())
	reply, ok := d.last().(*xmpp.IQ)
	require.True(t, ok)
	require.True(t, reply.IsResult())
	query := reply.Elements().ChildNamespace("query", namespace)
	require.NotNil(t, query)
	require.NotEmpty(t, query.Attributes().Get("seconds"))
}

func TestLastActivityOwnBareJIDWithActiveSessionReturnsZero(t *testing.T) {
	h := newHarness(t)
	full := mustJID(t, "romeo@jabberwire.im/orchard")
	d := newFakeDeliverer(full)
	h.j.EstablishSession(full, d)

	bare := full.ToBareJID()
	iq := xmpp.NewIQType("last1", xmpp.GetType)
	iq.SetTo(bare.String())
	iq.SetFrom(full.String())
	iq.AppendElement(xmpp.NewElementNamespace("query", namespace))

	require.NoError(t, h.rtr.Route(router.NewPacket(iq, bare, full)))
	reply, ok := d.last().(*xmpp.IQ)
	require.True(t, ok)
	query := reply.Elements().ChildNamespace("query", namespace)
	require.Equal(t, "0", query.Attributes().Get("seconds"))
}

func TestLastActivityAfterSessionEndReportsElapsedAndStatus(t *testing.T) {
	h := newHarness(t)
	full := mustJID(t, "romeo@jabberwire.im/orchard")
	d := newFakeDeliverer(full)
	h.j.EstablishSession(full, d)

	away := xmpp.NewPresence(full, full.ToBareJID(), xmpp.AvailableType)
	status := xmpp.NewElementName("status")
	status.SetText("gone fishing")
	away.AppendElement(status)
	require.NoError(t, h.rtr.Route(router.NewPacket(away, full.ToBareJID(), full)))

	h.j.EndSession(full)

	requester := mustJID(t, "juliet@jabberwire.im/balcony")
	_, err := h.j.Roster().UpsertEntry(context.Background(), full.ToBareJID(), requester, func(e *jsm.RosterEntry) { e.Subscription = jsm.SubBoth })
	require.NoError(t, err)
	rd := newFakeDeliverer(requester)
	h.j.EstablishSession(requester, rd)

	bare := full.ToBareJID()
	iq := xmpp.NewIQType("last2", xmpp.GetType)
	iq.SetTo(bare.String())
	iq.SetFrom(requester.String())
	iq.AppendElement(xmpp.NewElementNamespace("query", namespace))

	require.NoError(t, h.rtr.Route(router.NewPacket(iq, bare, requester)))
	require.Equal(t, 1, rd.count())
	reply, ok := rd.last().(*xmpp.IQ)
	require.True(t, ok)
	query := reply.Elements().ChildNamespace("query", namespace)
	require.NotNil(t, query)
	require.Equal(t, "gone fishing", query.Text())
}

func TestLastActivityMatchesIQRequiresGet(t *testing.T) {
	la := &LastActivity{}
	get := xmpp.NewIQType("q1", xmpp.GetType)
	get.AppendElement(xmpp.NewElementNamespace("query", namespace))
	require.True(t, la.MatchesIQ(get))

	set := xmpp.NewIQType("q2", xmpp.SetType)
	set.AppendElement(xmpp.NewElementNamespace("query", namespace))
	require.False(t, la.MatchesIQ(set))
}

func TestEncodeDecodeRoundTrips(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	raw := encode(now, "busy")
	at, status := decode(raw)
	require.Equal(t, now, at)
	require.Equal(t, "busy", status)
}
