/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package vcard

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

// harness wires a real jsm.JSM with the VCard module registered, the
// same shape as jsm's own test harness, duplicated here since it is
// test-only scaffolding for a different package.
type harness struct {
	j       *jsm.JSM
	rtr     *router.Router
	vcard   *VCard
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

	v := New(cache)
	j.RegisterIQHandler(v)

	return &harness{j: j, rtr: r, vcard: v}
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

func TestVCardGetReturnsEmptyCardWhenNoneStored(t *testing.T) {
	h := newHarness(t)
	owner := mustJID(t, "juliet@jabberwire.im/balcony")
	d := newFakeDeliverer(owner)
	h.j.EstablishSession(owner, d)

	iq := xmpp.NewIQType("get1", xmpp.GetType)
	iq.SetTo(owner.ToBareJID().String())
	iq.SetFrom(owner.String())
	iq.AppendElement(xmpp.NewElementNamespace("vCard", namespace))

	err := h.rtr.Route(router.NewPacket(iq, owner.ToBareJID(), owner))
	require.NoError(t, err)
	require.Equal(t, 1, d.count())

	reply, ok := d.last().(*xmpp.IQ)
	require.True(t, ok)
	require.True(t, reply.IsResult())
	require.NotNil(t, reply.Elements().ChildNamespace("vCard", namespace))
}

func TestVCardSetThenGetRoundTrips(t *testing.T) {
	h := newHarness(t)
	owner := mustJID(t, "juliet@jabberwire.im/balcony")
	d := newFakeDeliverer(owner)
	h.j.EstablishSession(owner, d)

	set := xmpp.NewIQType("set1", xmpp.SetType)
	set.SetTo(owner.ToBareJID().String())
	set.SetFrom(owner.String())
	vCard := xmpp.NewElementNamespace("vCard", namespace)
	fn := xmpp.NewElementName("FN")
	fn.SetText("Juliet Capulet")
	vCard.AppendElement(fn)
	set.AppendElement(vCard)

	require.NoError(t, h.rtr.Route(router.NewPacket(set, owner.ToBareJID(), owner)))
	require.Equal(t, 1, d.count())
	setReply, ok := d.last().(*xmpp.IQ)
	require.True(t, ok)
	require.True(t, setReply.IsResult())

	get := xmpp.NewIQType("get2", xmpp.GetType)
	get.SetTo(owner.ToBareJID().String())
	get.SetFrom(owner.String())
	get.AppendElement(xmpp.NewElementNamespace("vCard", namespace))

	require.NoError(t, h.rtr.Route(router.NewPacket(get, owner.ToBareJID(), owner)))
	require.Equal(t, 2, d.count())

	getReply, ok := d.last().(*xmpp.IQ)
	require.True(t, ok)
	card := getReply.Elements().ChildNamespace("vCard", namespace)
	require.NotNil(t, card)
	require.Equal(t, "Juliet Capulet", card.Elements().Child("FN").Text())
}

func TestVCardMatchesIQOnlyForVCardNamespace(t *testing.T) {
	v := New(nil)

	other := xmpp.NewIQType("q1", xmpp.GetType)
	other.AppendElement(xmpp.NewElementNamespace("query", "jabber:iq:private"))
	require.False(t, v.MatchesIQ(other))

	vCardIQ := xmpp.NewIQType("q2", xmpp.GetType)
	vCardIQ.AppendElement(xmpp.NewElementNamespace("vCard", namespace))
	require.True(t, v.MatchesIQ(vCardIQ))
}

func TestEncodeDecodeRoundTrips(t *testing.T) {
	raw := encode("Juliet Capulet", "Jules", "juliet@example.com", "https://example.com")
	fn, nickname, email, url := decode(raw)
	require.Equal(t, "Juliet Capulet", fn)
	require.Equal(t, "Jules", nickname)
	require.Equal(t, "juliet@example.com", email)
	require.Equal(t, "https://example.com", url)
}

func TestDecodeToleratesShortInput(t *testing.T) {
	fn, nickname, email, url := decode("onlyfn")
	require.Equal(t, "onlyfn", fn)
	require.Empty(t, nickname)
	require.Empty(t, email)
	require.Empty(t, url)
}
