/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package vcard implements XEP-0054 vcard-temp as an XDB-backed
// IQHandler, grounded on hunter007-jackal/module/xep0054.
package vcard

import (
	"context"
	"strings"

	"github.com/ortuman/jabberwire/log"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/xdb"
	"github.com/ortuman/jabberwire/xmpp"
)

const namespace = "vcard-temp"

// VCard answers get/set of the vcard-temp payload, persisted through
// xdb.Cache. Only the handful of scalar fields XMPP clients actually
// round-trip in practice (FN, NICKNAME, EMAIL, URL) are preserved —
// storage/sql's XDB documents only round-trip a single text node, so an
// arbitrary vCard subtree (PHOTO, ADR, ORG, …) cannot be reconstituted
// without a general XML parser, which is out of scope.
type VCard struct {
	cache *xdb.Cache
}

// New wraps cache for vCard storage.
func New(cache *xdb.Cache) *VCard {
	return &VCard{cache: cache}
}

// Name satisfies jsm.Module.
func (v *VCard) Name() string { return "vcard" }

// DiscoFeatures satisfies jsm.DiscoContributor.
func (v *VCard) DiscoFeatures() []string { return []string{namespace} }

// MatchesIQ satisfies jsm.IQHandler.
func (v *VCard) MatchesIQ(iq *xmpp.IQ) bool {
	return (iq.IsGet() || iq.IsSet()) && iq.Elements().ChildNamespace("vCard", namespace) != nil
}

// ProcessIQ satisfies jsm.IQHandler.
func (v *VCard) ProcessIQ(iq *xmpp.IQ) {
	if iq.IsGet() {
		v.get(iq)
		return
	}
	v.set(iq)
}

func (v *VCard) get(iq *xmpp.IQ) {
	to := iq.ToJID()
	doc, err := v.cache.Get(context.Background(), to.ToBareJID(), namespace)
	if err != nil {
		log.Warnf("vcard: fetch failed for %s: %v", to, err)
		v.reply(iq, iq.InternalServerError())
		return
	}
	card := xmpp.NewElementNamespace("vCard", namespace)
	if doc != nil {
		fn, nickname, email, url := decode(doc.Text())
		appendScalar(card, "FN", fn)
		appendScalar(card, "NICKNAME", nickname)
		appendScalar(card, "URL", url)
		if email != "" {
			emailEl := xmpp.NewElementName("EMAIL")
			userID := xmpp.NewElementName("USERID")
			userID.SetText(email)
			emailEl.AppendElement(userID)
			card.AppendElement(emailEl)
		}
	}
	res := iq.ResultIQ()
	res.AppendElement(card)
	v.reply(iq, res)
}

func (v *VCard) set(iq *xmpp.IQ) {
	from, to := iq.FromJID(), iq.ToJID()
	if !to.IsServer() && to.Node() != from.Node() {
		v.reply(iq, iq.NotAllowedError())
		return
	}
	vCard := iq.Elements().ChildNamespace("vCard", namespace)
	fn := childText(vCard, "FN")
	nickname := childText(vCard, "NICKNAME")
	url := childText(vCard, "URL")
	email := ""
	if emailEl := vCard.Elements().Child("EMAIL"); emailEl != nil {
		email = childText(emailEl, "USERID")
	}
	payload := xmpp.NewElementName("payload")
	payload.SetText(encode(fn, nickname, email, url))
	if err := v.cache.Set(context.Background(), to.ToBareJID(), namespace, payload); err != nil {
		log.Warnf("vcard: store failed for %s: %v", to, err)
		v.reply(iq, iq.InternalServerError())
		return
	}
	v.reply(iq, iq.ResultIQ())
}

func (v *VCard) reply(iq *xmpp.IQ, el xmpp.XElement) {
	pkt := router.NewPacket(el, iq.FromJID(), iq.ToJID())
	if err := router.Instance().Route(pkt); err != nil {
		log.Debugf("vcard: reply route failed: %v", err)
	}
}

func childText(el xmpp.XElement, name string) string {
	if el == nil {
		return ""
	}
	if c := el.Elements().Child(name); c != nil {
		return c.Text()
	}
	return ""
}

func appendScalar(parent *xmpp.Element, name, value string) {
	if value == "" {
		return
	}
	el := xmpp.NewElementName(name)
	el.SetText(value)
	parent.AppendElement(el)
}

func encode(fn, nickname, email, url string) string {
	return strings.Join([]string{fn, nickname, email, url}, "\t")
}

func decode(raw string) (fn, nickname, email, url string) {
	parts := strings.SplitN(raw, "\t", 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return parts[0], parts[1], parts[2], parts[3]
}
