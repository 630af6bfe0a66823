/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package private

import (
	"sync"
	"testing"

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
	j       *jsm.JSM
	rtr     *router.Router
	private *Private
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

	p := New(cache)
	j.RegisterIQHandler(p)

	return &harness{j: j, rtr: r, private: p}
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

func TestPrivateSetThenGetRoundTrips(t *testing.T) {
	h := newHarness(t)
	owner := mustJID(t, "juliet@jabberwire.im/balcony")
	d := newFakeDeliverer(owner)
	h.j.EstablishSession(owner, d)

	set := xmpp.NewIQType("set1", xmpp.SetType)
	set.SetTo(owner.ToBareJID().String())
	set.SetFrom(owner.String())
	query := xmpp.NewElementNamespace("query", namespace)
	storage := xmpp.NewElementNamespace("storage", "storage:metacontacts")
	storage.SetText("hidden-group")
	query.AppendElement(storage)
	set.AppendElement(query)

	require.NoError(t, h.rtr.Route(router.NewPacket(set, owner.ToBareJID(), owner)))
	require.Equal(t, 1, d.count())
	setReply, ok := d.last().(*xmpp.IQ)
	require.True(t, ok)
	require.True(t, setReply.IsResult())

	get := xmpp.NewIQType("get1", xmpp.GetType)
	get.SetTo(owner.ToBareJID().String())
	get.SetFrom(owner.String())
	getQuery := xmpp.NewElementNamespace("query", namespace)
	getQuery.AppendElement(xmpp.NewElementNamespace("storage", "storage:metacontacts"))
	get.AppendElement(getQuery)

	require.NoError(t, h.rtr.Route(router.NewPacket(get, owner.ToBareJID(), owner)))
	require.Equal(t, 2, d.count())

	getReply, ok := d.last().(*xmpp.IQ)
	require.True(t, ok)
	gotQuery := getReply.Elements().ChildNamespace("query", namespace)
	require.NotNil(t, gotQuery)
	frag := gotQuery.Elements().Child("storage")
	require.NotNil(t, frag)
	require.Equal(t, "hidden-group", frag.Text())
}

func TestPrivateGetUnknownFragmentReturnsEmpty(t *testing.T) {
	h := newHarness(t)
	owner := mustJID(t, "romeo@jabberwire.im/orchard")
	d := newFakeDeliverer(owner)
	h.j.EstablishSession(owner, d)

	get := xmpp.NewIQType("get1", xmpp.GetType)
	get.SetTo(owner.ToBareJID().String())
	get.SetFrom(owner.String())
	query := xmpp.NewElementNamespace("query", namespace)
	query.AppendElement(xmpp.NewElementNamespace("storage", "storage:rosternotes"))
	get.AppendElement(query)

	require.NoError(t, h.rtr.Route(router.NewPacket(get, owner.ToBareJID(), owner)))
	reply, ok := d.last().(*xmpp.IQ)
	require.True(t, ok)
	require.True(t, reply.IsResult())
	frag := reply.Elements().ChildNamespace("query", namespace).Elements().Child("storage")
	require.NotNil(t, frag)
	require.Empty(t, frag.Text())
}

func TestPrivateProcessIQBadRequestWhenNoFragment(t *testing.T) {
	h := newHarness(t)
	owner := mustJID(t, "romeo@jabberwire.im/orchard")
	d := newFakeDeliverer(owner)
	h.j.EstablishSession(owner, d)

	get := xmpp.NewIQType("get1", xmpp.GetType)
	get.SetTo(owner.ToBareJID().String())
	get.SetFrom(owner.String())
	get.AppendElement(xmpp.NewElementNamespace("query", namespace))

	require.NoError(t, h.rtr.Route(router.NewPacket(get, owner.ToBareJID(), owner)))
	require.Equal(t, 1, d.count())
	require.Equal(t, xmpp.ErrorType, d.last().Type())
}

func TestPrivateMatchesIQRequiresNamespace(t *testing.T) {
	p := New(nil)

	nonPrivate := xmpp.NewIQType("q1", xmpp.GetType)
	nonPrivate.AppendElement(xmpp.NewElementNamespace("query", "jabber:iq:roster"))
	require.False(t, p.MatchesIQ(nonPrivate))

	withNS := xmpp.NewIQType("q2", xmpp.GetType)
	withNS.AppendElement(xmpp.NewElementNamespace("query", namespace))
	require.True(t, p.MatchesIQ(withNS))
}
