package router

import (
	"testing"

	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/xmpp"
	"github.com/stretchr/testify/require"
)

func newTestPacket(t *testing.T, to, from string) *Packet {
	t.Helper()
	toJID, err := jid.NewString(to, false)
	require.NoError(t, err)
	fromJID, err := jid.NewString(from, false)
	require.NoError(t, err)
	el := xmpp.NewElementName("iq")
	el.SetAttribute("id", "1")
	el.SetAttribute("type", "get")
	el.AppendElement(xmpp.NewElementNamespace("query", "jabber:iq:roster"))
	return NewPacket(el, toJID, fromJID)
}

func TestRouteExactMatch(t *testing.T) {
	r := New()
	var got *Packet
	jsm := NewInstance("jackal.im", TypeNormal)
	jsm.Chain.Register(Deliver, func(p *Packet) Result {
		got = p
		return Done
	})
	r.RegisterInstance(jsm)
	r.SetDefaultNormal(jsm)

	pkt := newTestPacket(t, "user@jackal.im", "other@jackal.im")
	err := r.Route(pkt)
	require.NoError(t, err)
	require.Equal(t, pkt, got)
}

func TestRouteLongestSuffixMatch(t *testing.T) {
	r := New()
	inst := NewInstance("jackal.im", TypeNormal)
	inst.Chain.Register(Deliver, func(p *Packet) Result { return Done })
	r.RegisterInstance(inst)

	pkt := newTestPacket(t, "user@conference.jackal.im", "user@jackal.im")
	err := r.Route(pkt)
	require.NoError(t, err)
}

func TestRouteBouncesWhenUnrouted(t *testing.T) {
	r := New()
	local := NewInstance("jackal.im", TypeNormal)
	var bounced *Packet
	local.Chain.Register(Deliver, func(p *Packet) Result {
		if p.Element.Type() == xmpp.ErrorType {
			bounced = p
			return Done
		}
		return Pass
	})
	r.RegisterInstance(local)
	r.SetDefaultNormal(local)

	pkt := newTestPacket(t, "nosuchdomain.example", "user@jackal.im")
	err := r.Route(pkt)
	require.Equal(t, ErrResourceNotFound, err)
	require.NotNil(t, bounced)
	require.Equal(t, "user@jackal.im", bounced.Element.To())
}

func TestRouteNeverBouncesAnError(t *testing.T) {
	r := New()
	local := NewInstance("jackal.im", TypeNormal)
	r.RegisterInstance(local)
	r.SetDefaultNormal(local)

	toJID, _ := jid.NewString("nosuchdomain.example", false)
	fromJID, _ := jid.NewString("user@jackal.im", false)
	el := xmpp.NewElementName("iq")
	el.SetAttribute("id", "1")
	el.SetAttribute("type", "error")
	pkt := NewPacket(el, toJID, fromJID)

	err := r.Route(pkt)
	require.Equal(t, ErrResourceNotFound, err)
}

func TestUnregisterInstanceIsNoOpWhenAbsent(t *testing.T) {
	r := New()
	require.NotPanics(t, func() { r.UnregisterInstance("nope.example") })
}

func TestRegisterInstanceIdempotent(t *testing.T) {
	r := New()
	inst := NewInstance("jackal.im", TypeNormal)
	r.RegisterInstance(inst)
	r.RegisterInstance(inst)
	require.True(t, r.IsLocalDomain("jackal.im"))
}

func TestChainUnregRemovesHandler(t *testing.T) {
	c := NewChain()
	calls := 0
	c.Register(Deliver, func(p *Packet) Result {
		calls++
		return Unreg
	})
	c.Register(Deliver, func(p *Packet) Result { return Done })

	pkt := &Packet{Element: xmpp.NewElementName("iq")}
	require.Equal(t, Done, c.Invoke(pkt))
	require.Equal(t, 1, calls)
	require.Equal(t, 1, c.Len())

	require.Equal(t, Done, c.Invoke(pkt))
	require.Equal(t, 1, calls) // first handler no longer runs
}

func TestChainPhaseOrder(t *testing.T) {
	c := NewChain()
	var order []string
	c.Register(Deliver, func(p *Packet) Result { order = append(order, "deliver"); return Pass })
	c.Register(PreCond, func(p *Packet) Result { order = append(order, "precond"); return Pass })
	c.Register(Cond, func(p *Packet) Result { order = append(order, "cond"); return Pass })

	pkt := &Packet{Element: xmpp.NewElementName("iq")}
	c.Invoke(pkt)
	require.Equal(t, []string{"precond", "cond", "deliver"}, order)
}
