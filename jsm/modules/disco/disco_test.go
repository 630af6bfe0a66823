/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package disco

import (
	"testing"

	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/xmpp"
	"github.com/stretchr/testify/require"
)

func mustJID(t *testing.T, s string) *jid.JID {
	t.Helper()
	j, err := jid.NewString(s, false)
	require.NoError(t, err)
	return j
}

func TestRegisterAccountFeatureIsSortedAndDeduplicated(t *testing.T) {
	i := New()
	i.RegisterAccountFeature("vcard-temp")
	i.RegisterAccountFeature("jabber:iq:register")
	i.RegisterAccountFeature("vcard-temp")

	require.Equal(t, []string{"jabber:iq:register", "vcard-temp"}, i.DiscoFeatures())
}

func TestMatchesIQRejectsServerAddressedQueries(t *testing.T) {
	i := New()

	toAccount := xmpp.NewIQType("q1", xmpp.GetType)
	toAccount.SetTo("juliet@jabberwire.im")
	toAccount.AppendElement(xmpp.NewElementNamespace("query", discoInfoNamespace))
	require.True(t, i.MatchesIQ(toAccount))

	toServer := xmpp.NewIQType("q2", xmpp.GetType)
	toServer.SetTo("jabberwire.im")
	toServer.AppendElement(xmpp.NewElementNamespace("query", discoInfoNamespace))
	require.False(t, i.MatchesIQ(toServer))
}

func TestProcessIQAnswersDiscoInfoWithRegisteredFeatures(t *testing.T) {
	r := router.New()
	router.SetInstance(r)

	owner := mustJID(t, "juliet@jabberwire.im/balcony")
	var recv []xmpp.XElement
	inst := router.NewInstance(owner.String(), router.TypeNormal)
	inst.Chain.Register(router.Deliver, func(pkt *router.Packet) router.Result {
		recv = append(recv, pkt.Element)
		return router.Done
	})
	r.RegisterInstance(inst)
	r.SetDefaultNormal(inst)

	i := New()
	i.RegisterAccountFeature("vcard-temp")

	iq := xmpp.NewIQType("info1", xmpp.GetType)
	iq.SetTo(owner.String())
	iq.SetFrom(owner.String())
	iq.AppendElement(xmpp.NewElementNamespace("query", discoInfoNamespace))

	i.ProcessIQ(iq)

	require.Len(t, recv, 1)
	reply, ok := recv[0].(*xmpp.IQ)
	require.True(t, ok)
	query := reply.Elements().ChildNamespace("query", discoInfoNamespace)
	require.NotNil(t, query)
	identity := query.Elements().Child("identity")
	require.NotNil(t, identity)
	require.Equal(t, "account", identity.Attributes().Get("category"))
	feature := query.Elements().Child("feature")
	require.NotNil(t, feature)
	require.Equal(t, "vcard-temp", feature.Attributes().Get("var"))
}

func TestProcessIQAnswersDiscoItemsEmpty(t *testing.T) {
	r := router.New()
	router.SetInstance(r)

	owner := mustJID(t, "juliet@jabberwire.im/balcony")
	var recv []xmpp.XElement
	inst := router.NewInstance(owner.String(), router.TypeNormal)
	inst.Chain.Register(router.Deliver, func(pkt *router.Packet) router.Result {
		recv = append(recv, pkt.Element)
		return router.Done
	})
	r.RegisterInstance(inst)
	r.SetDefaultNormal(inst)

	i := New()
	iq := xmpp.NewIQType("items1", xmpp.GetType)
	iq.SetTo(owner.String())
	iq.SetFrom(owner.String())
	iq.AppendElement(xmpp.NewElementNamespace("query", discoItemsNamespace))

	i.ProcessIQ(iq)

	require.Len(t, recv, 1)
	reply, ok := recv[0].(*xmpp.IQ)
	require.True(t, ok)
	require.NotNil(t, reply.Elements().ChildNamespace("query", discoItemsNamespace))
}
