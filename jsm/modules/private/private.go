/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package private implements XEP-0049 private XML storage as an
// XDB-backed IQHandler, grounded on hunter007-jackal/module/xep0049.
package private

import (
	"context"

	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/log"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/xdb"
	"github.com/ortuman/jabberwire/xmpp"
)

const namespace = "jabber:iq:private"

// Private answers get/set of arbitrary namespaced fragments under
// jabber:iq:private, keyed by "name|namespace" and persisted through
// xdb.Cache. Only the fragment's own text is preserved — storage/sql's
// XDB documents only round-trip a single text node — so a stored
// fragment's nested child elements (e.g. a bookmarks list's per-item
// <conference/> children) do not survive a round trip; this is
// sufficient for the common single-value private-storage fragments
// (e.g. a client's "storage:metacontacts" marker) and is documented
// rather than silently broken.
type Private struct {
	cache *xdb.Cache
}

// New wraps cache for private-storage persistence.
func New(cache *xdb.Cache) *Private {
	return &Private{cache: cache}
}

// Name satisfies jsm.Module.
func (p *Private) Name() string { return "private" }

// DiscoFeatures satisfies jsm.DiscoContributor.
func (p *Private) DiscoFeatures() []string { return []string{namespace} }

// MatchesIQ satisfies jsm.IQHandler.
func (p *Private) MatchesIQ(iq *xmpp.IQ) bool {
	return (iq.IsGet() || iq.IsSet()) && iq.Elements().Child("query") != nil &&
		iq.Elements().Child("query").Namespace() == namespace
}

// ProcessIQ satisfies jsm.IQHandler.
func (p *Private) ProcessIQ(iq *xmpp.IQ) {
	query := iq.Elements().Child("query")
	fragment := firstChild(query)
	if fragment == nil {
		p.reply(iq, iq.BadRequestError())
		return
	}
	owner := iq.FromJID().ToBareJID()
	key := fragment.Name() + "|" + fragment.Namespace()
	if iq.IsSet() {
		p.set(iq, owner, key, fragment)
		return
	}
	p.get(iq, owner, key, fragment)
}

func (p *Private) get(iq *xmpp.IQ, owner *jid.JID, key string, fragment xmpp.XElement) {
	doc, err := p.cache.Get(context.Background(), owner, "private:"+key)
	if err != nil {
		log.Warnf("private: fetch failed for %s/%s: %v", owner, key, err)
		p.reply(iq, iq.InternalServerError())
		return
	}
	res := iq.ResultIQ()
	query := xmpp.NewElementNamespace("query", namespace)
	el := xmpp.NewElementNamespace(fragment.Name(), fragment.Namespace())
	if doc != nil {
		el.SetText(doc.Text())
	}
	query.AppendElement(el)
	res.AppendElement(query)
	p.reply(iq, res)
}

func (p *Private) set(iq *xmpp.IQ, owner *jid.JID, key string, fragment xmpp.XElement) {
	payload := xmpp.NewElementName("payload")
	payload.SetText(fragment.Text())
	if err := p.cache.Set(context.Background(), owner, "private:"+key, payload); err != nil {
		log.Warnf("private: store failed for %s/%s: %v", owner, key, err)
		p.reply(iq, iq.InternalServerError())
		return
	}
	p.reply(iq, iq.ResultIQ())
}

func (p *Private) reply(iq *xmpp.IQ, el xmpp.XElement) {
	pkt := router.NewPacket(el, iq.FromJID(), iq.ToJID())
	if err := router.Instance().Route(pkt); err != nil {
		log.Debugf("private: reply route failed: %v", err)
	}
}

func firstChild(query xmpp.XElement) xmpp.XElement {
	all := query.Elements().All()
	if len(all) == 0 {
		return nil
	}
	return all[0]
}
