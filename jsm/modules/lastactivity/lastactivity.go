/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package lastactivity implements XEP-0012 (jabber:iq:last), grounded
// on hunter007-jackal/module/xep0012.
package lastactivity

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/jsm"
	"github.com/ortuman/jabberwire/log"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/xdb"
	"github.com/ortuman/jabberwire/xmpp"
)

const namespace = "jabber:iq:last"

// LastActivity answers jabber:iq:last queries: the server's own uptime
// when addressed to the bare domain, or a subscribed contact's
// time-since-disconnect and last status otherwise.
type LastActivity struct {
	startTime time.Time
	j         *jsm.JSM
	cache     *xdb.Cache
}

// New wires a LastActivity module against j, recording PhaseEnd to
// persist each user's disconnect time and last status.
func New(j *jsm.JSM, cache *xdb.Cache) *LastActivity {
	la := &LastActivity{startTime: time.Now(), j: j, cache: cache}
	j.RegisterPhase(jsm.PhaseEnd, la.onSessionEnd)
	return la
}

// Name satisfies jsm.Module.
func (la *LastActivity) Name() string { return "lastactivity" }

// DiscoFeatures satisfies jsm.DiscoContributor.
func (la *LastActivity) DiscoFeatures() []string { return []string{namespace} }

// MatchesIQ satisfies jsm.IQHandler.
func (la *LastActivity) MatchesIQ(iq *xmpp.IQ) bool {
	return iq.IsGet() && iq.Elements().ChildNamespace("query", namespace) != nil
}

// ProcessIQ satisfies jsm.IQHandler.
func (la *LastActivity) ProcessIQ(iq *xmpp.IQ) {
	to := iq.ToJID()
	switch {
	case to.IsServer():
		la.reply(iq, int(time.Since(la.startTime)/time.Second), "")
	case to.IsBare():
		la.replyForUser(iq, to)
	default:
		la.route(iq.BadRequestError(), iq)
	}
}

func (la *LastActivity) replyForUser(iq *xmpp.IQ, to *jid.JID) {
	from := iq.FromJID()
	if !la.isSubscribedTo(to, from) {
		la.route(iq.ForbiddenError(), iq)
		return
	}
	if la.j.HasActiveSession(to) {
		la.reply(iq, 0, "")
		return
	}
	doc, err := la.cache.Get(context.Background(), to, "last-activity")
	if err != nil {
		log.Warnf("lastactivity: fetch failed for %s: %v", to, err)
		la.route(iq.InternalServerError(), iq)
		return
	}
	if doc == nil {
		la.route(iq.ItemNotFoundError(), iq)
		return
	}
	at, status := decode(doc.Text())
	la.reply(iq, int(time.Since(at)/time.Second), status)
}

func (la *LastActivity) isSubscribedTo(contact, requester *jid.JID) bool {
	if contact.MatchesBare(requester) {
		return true
	}
	entries, err := la.j.Roster().Fetch(context.Background(), contact)
	if err != nil {
		log.Warnf("lastactivity: roster fetch failed for %s: %v", contact, err)
		return false
	}
	for _, e := range entries {
		if e.Peer.MatchesBare(requester) {
			return e.Subscription == jsm.SubFrom || e.Subscription == jsm.SubBoth
		}
	}
	return false
}

func (la *LastActivity) onSessionEnd(evt *jsm.Event) jsm.Result {
	if evt.Session == nil {
		return jsm.Pass
	}
	status := ""
	if p := evt.Session.Presence(); p != nil {
		status = p.Status()
	}
	payload := xmpp.NewElementName("payload")
	payload.SetText(encode(time.Now(), status))
	if err := la.cache.Set(context.Background(), evt.Session.JID().ToBareJID(), "last-activity", payload); err != nil {
		log.Warnf("lastactivity: store failed for %s: %v", evt.Session.JID(), err)
	}
	return jsm.Pass
}

func (la *LastActivity) reply(iq *xmpp.IQ, secs int, status string) {
	q := xmpp.NewElementNamespace("query", namespace)
	q.SetText(status)
	q.SetAttribute("seconds", strconv.Itoa(secs))
	res := iq.ResultIQ()
	res.AppendElement(q)
	la.route(res, iq)
}

func (la *LastActivity) route(el xmpp.XElement, iq *xmpp.IQ) {
	pkt := router.NewPacket(el, iq.FromJID(), iq.ToJID())
	if err := router.Instance().Route(pkt); err != nil {
		log.Debugf("lastactivity: route failed: %v", err)
	}
}

func encode(at time.Time, status string) string {
	return at.UTC().Format(time.RFC3339) + "\t" + status
}

func decode(raw string) (time.Time, string) {
	parts := strings.SplitN(raw, "\t", 2)
	at, err := time.Parse(time.RFC3339, parts[0])
	if err != nil {
		at = time.Now()
	}
	status := ""
	if len(parts) > 1 {
		status = parts[1]
	}
	return at, status
}
