/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package disco implements XEP-0030 service discovery for individual
// user JIDs (account-level disco, as opposed to jsm.JSM's own
// server-addressed disco#info/disco#items handling). Grounded on
// hunter007-jackal/module/xep0030's DiscoInfo/Entity split, generalized
// from a jid+node-keyed entity map to one aggregate account feature set,
// into which cmd/jabberwired registers the feature of each enabled
// account-scoped module (vcard, private, lastactivity, register).
package disco

import (
	"sort"
	"sync"

	"github.com/ortuman/jabberwire/log"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/xmpp"
)

const (
	discoInfoNamespace  = "http://jabber.org/protocol/disco#info"
	discoItemsNamespace = "http://jabber.org/protocol/disco#items"
)

// Info aggregates account-level disco#info features and answers
// disco#info/disco#items queries addressed to a specific (non-server)
// local JID.
type Info struct {
	mu       sync.Mutex
	features map[string]struct{}
}

// New returns an empty account-disco aggregator.
func New() *Info {
	return &Info{features: make(map[string]struct{})}
}

// Name satisfies jsm.Module.
func (i *Info) Name() string { return "disco" }

// RegisterAccountFeature adds feature to every account's disco#info
// reply. cmd/jabberwired calls this for each enabled account-scoped
// module (vcard.VCard, private.Private, …) instead of registering those
// as jsm.DiscoContributor, since those only aggregate at the server
// level.
func (i *Info) RegisterAccountFeature(feature string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.features[feature] = struct{}{}
}

// DiscoFeatures satisfies jsm.DiscoContributor, exposing the same
// feature set at the server level too.
func (i *Info) DiscoFeatures() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.features))
	for f := range i.features {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// MatchesIQ satisfies jsm.IQHandler.
func (i *Info) MatchesIQ(iq *xmpp.IQ) bool {
	if !iq.IsGet() {
		return false
	}
	q := iq.Payload()
	to := iq.ToJID()
	return q != nil && to != nil && !to.IsServer() &&
		(q.Namespace() == discoInfoNamespace || q.Namespace() == discoItemsNamespace)
}

// ProcessIQ satisfies jsm.IQHandler.
func (i *Info) ProcessIQ(iq *xmpp.IQ) {
	q := iq.Payload()
	res := iq.ResultIQ()
	switch q.Namespace() {
	case discoInfoNamespace:
		query := xmpp.NewElementNamespace("query", discoInfoNamespace)
		identity := xmpp.NewElementName("identity")
		identity.SetAttribute("category", "account")
		identity.SetAttribute("type", "registered")
		query.AppendElement(identity)
		for _, f := range i.DiscoFeatures() {
			feature := xmpp.NewElementName("feature")
			feature.SetAttribute("var", f)
			query.AppendElement(feature)
		}
		res.AppendElement(query)
	case discoItemsNamespace:
		res.AppendElement(xmpp.NewElementNamespace("query", discoItemsNamespace))
	}
	pkt := router.NewPacket(res, iq.FromJID(), iq.ToJID())
	if err := router.Instance().Route(pkt); err != nil {
		log.Debugf("disco: reply route failed: %v", err)
	}
}
