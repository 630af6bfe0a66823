/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package register

import (
	"sync"
	"testing"

	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/jsm"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/xdb"
	"github.com/ortuman/jabberwire/xmpp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
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

func (s *fakeStorage) rawValue(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

type harness struct {
	j        *jsm.JSM
	rtr      *router.Router
	register *Register
	storage  *fakeStorage
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	r := router.New()
	router.SetInstance(r)

	xdbInst := router.NewInstance("xdb.jabberwire.im", router.TypeXDB)
	r.RegisterInstance(xdbInst)
	r.SetXDBInstance(xdbInst)
	storage := newFakeStorage(xdbInst)

	cache := xdb.NewCache("jabberwire.im", xdbInst)
	t.Cleanup(cache.Close)

	j := jsm.New("jabberwire.im", &jsm.Config{}, r, cache)
	j.BindRouter("jabberwire.im")

	reg := New(j, cache)
	j.RegisterIQHandler(reg)

	return &harness{j: j, rtr: r, register: reg, storage: storage}
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

func newRegisterIQ(id, username, password string) *xmpp.IQ {
	iq := xmpp.NewIQType(id, xmpp.SetType)
	query := xmpp.NewElementNamespace("query", namespace)
	u := xmpp.NewElementName("username")
	u.SetText(username)
	p := xmpp.NewElementName("password")
	p.SetText(password)
	query.AppendElement(u)
	query.AppendElement(p)
	iq.AppendElement(query)
	return iq
}

func TestRegisterGetSendsForm(t *testing.T) {
	h := newHarness(t)
	from := mustJID(t, "anon@jabberwire.im/registration")
	d := newFakeDeliverer(from)
	h.j.EstablishSession(from, d)

	domain := mustJID(t, "jabberwire.im")
	iq := xmpp.NewIQType("get1", xmpp.GetType)
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
	require.NotNil(t, query.Elements().Child("instructions"))
}

func TestRegisterCreateStoresBcryptHashNotPlaintext(t *testing.T) {
	h := newHarness(t)
	from := mustJID(t, "anon@jabberwire.im/registration")
	d := newFakeDeliverer(from)
	h.j.EstablishSession(from, d)

	domain := mustJID(t, "jabberwire.im")
	iq := newRegisterIQ("set1", "juliet", "s3cr3t")
	iq.SetTo(domain.String())
	iq.SetFrom(from.String())

	require.NoError(t, h.rtr.Route(router.NewPacket(iq, domain, from)))
	require.Equal(t, 1, d.count())
	reply, ok := d.last().(*xmpp.IQ)
	require.True(t, ok)
	require.True(t, reply.IsResult())

	owner := mustJID(t, "juliet@jabberwire.im")
	stored, ok := h.storage.rawValue(owner.String() + "|password")
	require.True(t, ok)
	require.NotEqual(t, "s3cr3t", stored)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored), []byte("s3cr3t")))
}

func TestRegisterCreateConflictsOnExistingUsername(t *testing.T) {
	h := newHarness(t)
	from := mustJID(t, "anon@jabberwire.im/registration")
	d := newFakeDeliverer(from)
	h.j.EstablishSession(from, d)
	domain := mustJID(t, "jabberwire.im")

	first := newRegisterIQ("set1", "juliet", "s3cr3t")
	first.SetTo(domain.String())
	first.SetFrom(from.String())
	require.NoError(t, h.rtr.Route(router.NewPacket(first, domain, from)))
	require.True(t, d.last().(*xmpp.IQ).IsResult())

	second := newRegisterIQ("set2", "juliet", "different")
	second.SetTo(domain.String())
	second.SetFrom(from.String())
	require.NoError(t, h.rtr.Route(router.NewPacket(second, domain, from)))
	require.Equal(t, 2, d.count())
	require.Equal(t, xmpp.ErrorType, d.last().Type())
}

func TestRegisterCreateBadRequestWhenFieldsMissing(t *testing.T) {
	h := newHarness(t)
	from := mustJID(t, "anon@jabberwire.im/registration")
	d := newFakeDeliverer(from)
	h.j.EstablishSession(from, d)
	domain := mustJID(t, "jabberwire.im")

	iq := newRegisterIQ("set1", "", "")
	iq.SetTo(domain.String())
	iq.SetFrom(from.String())
	require.NoError(t, h.rtr.Route(router.NewPacket(iq, domain, from)))
	require.Equal(t, xmpp.ErrorType, d.last().Type())
}
