/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package jsm

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/log"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/xdb"
	"github.com/ortuman/jabberwire/xmpp"
)

const (
	discoInfoNamespace  = "http://jabber.org/protocol/disco#info"
	discoItemsNamespace = "http://jabber.org/protocol/disco#items"
	browseNamespace     = "jabber:iq:browse"
	rosterIQNamespace   = "jabber:iq:roster"
)

// OfflineQueue is implemented by jsm/modules/offline: it archives a
// message for a user with no active session and drains the backlog once
// one reconnects (spec.md §4.4 "offline queue").
type OfflineQueue interface {
	Module
	Archive(to *jid.JID, msg *xmpp.Message)
	Drain(to *jid.JID) []*xmpp.Message
}

// JSM is the session manager bound to a local user domain: it owns the
// live session registry, the presence/subscription state machine, and
// the compile-time module registry (SPEC_FULL.md §4.4). It is wired into
// the router as a single TypeNormal router.Instance, the same way the
// teacher's c2s listener registers itself — deliver() plays the role of
// c2s.go's processStanza/processIQ/processPresence/processMessage.
type JSM struct {
	domain string
	cfg    *Config
	rtr    *router.Router
	inst   *router.Instance
	cache  *xdb.Cache
	roster *RosterStore

	storable map[string]struct{}

	mu    sync.RWMutex
	users map[string]*udata // bare JID string -> udata

	phasesMu sync.RWMutex
	phases   map[Phase][]HandlerFunc

	modsMu            sync.RWMutex
	iqHandlers        []IQHandler
	discoContributors []DiscoContributor
	offline           OfflineQueue
}

// New builds a JSM bound to domain, backed by cache for roster storage.
func New(domain string, cfg *Config, rtr *router.Router, cache *xdb.Cache) *JSM {
	storable := DefaultStorableTypes()
	if len(cfg.StorableTypes) > 0 {
		storable = make(map[string]struct{}, len(cfg.StorableTypes))
		for _, t := range cfg.StorableTypes {
			storable[t] = struct{}{}
		}
	}
	return &JSM{
		domain:   domain,
		cfg:      cfg,
		rtr:      rtr,
		cache:    cache,
		roster:   NewRosterStore(cache),
		storable: storable,
		users:    make(map[string]*udata),
		phases:   make(map[Phase][]HandlerFunc),
	}
}

// RegisterPhase appends fn as a handler for p (teacher's module wiring
// idiom, generalized from initializeModules' explicit call-outs into a
// registry any module can extend).
func (j *JSM) RegisterPhase(p Phase, fn HandlerFunc) {
	j.phasesMu.Lock()
	defer j.phasesMu.Unlock()
	j.phases[p] = append(j.phases[p], fn)
}

// FirePreRegister fires PhasePreRegister, letting a registered handler
// veto an in-band registration attempt by returning Handled.
func (j *JSM) FirePreRegister(evt *Event) Result { return j.fire(PhasePreRegister, evt) }

// FireRegister fires PhaseRegister after a registration has been
// committed.
func (j *JSM) FireRegister(evt *Event) Result { return j.fire(PhaseRegister, evt) }

func (j *JSM) fire(p Phase, evt *Event) Result {
	j.phasesMu.RLock()
	handlers := j.phases[p]
	j.phasesMu.RUnlock()
	evt.Phase = p
	for _, h := range handlers {
		if r := h(evt); r == Handled {
			return Handled
		}
	}
	return Pass
}

// RegisterIQHandler adds h to the set consulted by every local IQ before
// it falls through to per-session delivery.
func (j *JSM) RegisterIQHandler(h IQHandler) {
	j.modsMu.Lock()
	defer j.modsMu.Unlock()
	j.iqHandlers = append(j.iqHandlers, h)
}

// RegisterDiscoProvider adds p's features to the server-addressed
// disco#info response.
func (j *JSM) RegisterDiscoProvider(p DiscoContributor) {
	j.modsMu.Lock()
	defer j.modsMu.Unlock()
	j.discoContributors = append(j.discoContributors, p)
}

// SetOfflineQueue wires the offline module. Until called, undeliverable
// storable messages are bounced rather than archived.
func (j *JSM) SetOfflineQueue(q OfflineQueue) {
	j.modsMu.Lock()
	defer j.modsMu.Unlock()
	j.offline = q
}

// BindRouter registers a router.Instance under id, sets it as the
// router's default-normal destination, and wires deliver as its single
// Deliver-phase handler.
func (j *JSM) BindRouter(id string) *router.Instance {
	j.inst = router.NewInstance(id, router.TypeNormal)
	j.inst.Chain.Register(router.Deliver, j.deliver)
	j.rtr.RegisterInstance(j.inst)
	j.rtr.SetDefaultNormal(j.inst)
	return j.inst
}

func (j *JSM) deliver(pkt *router.Packet) router.Result {
	switch pkt.Class {
	case router.ClassMessage:
		return j.routeMessage(pkt)
	case router.ClassPresence:
		return j.routePresence(pkt)
	case router.ClassS10N:
		return j.routeS10N(pkt)
	case router.ClassIQ:
		return j.routeIQ(pkt)
	default:
		return router.Pass
	}
}

// HasActiveSession reports whether bare has at least one live session.
func (j *JSM) HasActiveSession(bare *jid.JID) bool {
	u := j.udataFor(bare, false)
	return u != nil && !u.isEmpty()
}

// Roster exposes the roster store for modules that need subscription
// checks (e.g. jsm/modules/lastactivity's "isSubscribedTo" gate).
func (j *JSM) Roster() *RosterStore { return j.roster }

func (j *JSM) hasUser(bare *jid.JID) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	_, ok := j.users[bare.String()]
	return ok
}

func (j *JSM) udataFor(bare *jid.JID, create bool) *udata {
	key := bare.String()
	j.mu.RLock()
	u := j.users[key]
	j.mu.RUnlock()
	if u != nil || !create {
		return u
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if u = j.users[key]; u == nil {
		u = newUdata(bare)
		j.users[key] = u
	}
	return u
}

// EstablishSession binds full to d, replacing any existing session at
// the same resource (spec.md §4.4 "session establishment"): the
// replaced session is terminated with ErrSessionConflict (which its
// Deliverer receives through Disconnect) and removed before the new
// one is stored and PhaseSession fires.
func (j *JSM) EstablishSession(full *jid.JID, d Deliverer) *Session {
	u := j.udataFor(full.ToBareJID(), true)
	if old := u.get(full.Resource()); old != nil {
		old.Terminate(ErrSessionConflict)
		u.remove(full.Resource())
	}
	s := newSession(full, d)
	u.put(s)
	j.fire(PhaseSession, &Event{Session: s})
	return s
}

// EndSession tears down the JSM-side bookkeeping for full's session
// (spec.md §4.4 PhaseEnd), removing the owning udata once it is empty.
func (j *JSM) EndSession(full *jid.JID) {
	bare := full.ToBareJID()
	u := j.udataFor(bare, false)
	if u == nil {
		return
	}
	s := u.get(full.Resource())
	u.remove(full.Resource())
	j.fire(PhaseEnd, &Event{Session: s})
	if u.isEmpty() {
		j.mu.Lock()
		delete(j.users, bare.String())
		j.mu.Unlock()
	}
}

// deliverToUser sends el to to's full resource if specified, otherwise
// to the bare JID's primary session. It reports whether a live session
// accepted el.
func (j *JSM) deliverToUser(to *jid.JID, el xmpp.XElement) bool {
	u := j.udataFor(to, false)
	if u == nil {
		return false
	}
	if to.IsFull() {
		if s := u.get(to.Resource()); s != nil {
			s.Send(el)
			return true
		}
		return false
	}
	if s := u.primary(); s != nil {
		s.Send(el)
		return true
	}
	return false
}

func (j *JSM) routeMessage(pkt *router.Packet) router.Result {
	msg, ok := pkt.Element.(*xmpp.Message)
	if !ok {
		var err error
		msg, err = xmpp.NewMessageFromElement(pkt.Element, pkt.From, pkt.To)
		if err != nil {
			return router.Err
		}
	}
	if j.deliverToUser(pkt.To, msg) {
		j.fire(PhaseDeliver, &Event{Stanza: msg, Element: msg})
		return router.Done
	}
	if msg.IsError() {
		// never bounce an error, never archive one either (spec.md §7).
		return router.Done
	}
	typ := msg.Type()
	if typ == "" {
		typ = xmpp.NormalType
	}
	if _, ok := j.storable[typ]; !ok {
		return router.Err
	}
	j.modsMu.RLock()
	offline := j.offline
	j.modsMu.RUnlock()
	if offline == nil {
		return router.Err
	}
	msg.Delay(j.domain, "Offline Storage")
	offline.Archive(pkt.To, msg)
	j.fire(PhaseOffline, &Event{Stanza: msg, Element: msg})
	return router.Done
}

func (j *JSM) routePresence(pkt *router.Packet) router.Result {
	p, ok := pkt.Element.(*xmpp.Presence)
	if !ok {
		return router.Err
	}
	from, to := pkt.From, pkt.To
	if from != nil && (to == nil || to.ToBareJID().Matches(from.ToBareJID())) {
		return j.handleOutboundPresence(from, p)
	}
	return j.handleInboundPresence(to, p)
}

func (j *JSM) handleOutboundPresence(from *jid.JID, p *xmpp.Presence) router.Result {
	u := j.udataFor(from.ToBareJID(), false)
	if u == nil {
		return router.Done
	}
	s := u.get(from.Resource())
	if s == nil {
		return router.Done
	}
	wasUnset := s.Presence() == nil
	priorPriority := s.Priority()
	s.SetPresence(p)
	j.fire(PhaseOut, &Event{Session: s, Stanza: p, Element: p})

	if p.IsAvailable() && (wasUnset || priorPriority < 0) && s.Priority() >= 0 {
		j.modsMu.RLock()
		offline := j.offline
		j.modsMu.RUnlock()
		if offline != nil {
			for _, m := range offline.Drain(from) {
				s.Send(m)
			}
		}
	}

	entries, err := j.roster.Fetch(context.Background(), from.ToBareJID())
	if err != nil {
		log.Warnf("jsm: roster fetch failed for %s: %v", from, err)
		return router.Done
	}
	for _, e := range entries {
		if e.Subscription != SubFrom && e.Subscription != SubBoth {
			continue
		}
		j.forwardPresence(from, e.Peer, p)
	}
	return router.Done
}

func (j *JSM) handleInboundPresence(to *jid.JID, p *xmpp.Presence) router.Result {
	if to == nil {
		return router.Err
	}
	if j.deliverToUser(to, p) {
		return router.Done
	}
	u := j.udataFor(to, false)
	if u == nil {
		return router.Err
	}
	delivered := false
	for _, s := range u.all() {
		s.Send(p)
		delivered = true
	}
	if !delivered {
		return router.Err
	}
	return router.Done
}

// forwardPresence relays a local user's presence to peer, whether peer is
// local (direct session delivery) or remote (ordinary router.Route, which
// a conn-package connector instance will pick up).
func (j *JSM) forwardPresence(owner, peer *jid.JID, p *xmpp.Presence) {
	fwd := xmpp.NewElementFromElement(p)
	fwd.SetFrom(owner.ToBareJID().String())
	fwd.SetTo(peer.String())
	j.route(fwd, peer, owner)
}

func (j *JSM) route(el xmpp.XElement, to, from *jid.JID) {
	pkt := router.NewPacket(el, to, from)
	if err := j.rtr.Route(pkt); err != nil {
		log.Debugf("jsm: route failed: %v", err)
	}
}

func (j *JSM) routeS10N(pkt *router.Packet) router.Result {
	p, ok := pkt.Element.(*xmpp.Presence)
	if !ok {
		return router.Err
	}
	from, to := pkt.From, pkt.To
	if from != nil && j.hasUser(from.ToBareJID()) && j.rtr.IsLocalDomain(from.Domain()) {
		return j.handleOutboundS10N(from, to, p)
	}
	return j.handleInboundS10N(from, to, p)
}

// handleOutboundS10N applies the local sender's half of spec.md §4.4's
// transition table and forwards the subscription request/reply to peer.
func (j *JSM) handleOutboundS10N(owner, peer *jid.JID, p *xmpp.Presence) router.Result {
	if peer == nil {
		return router.Err
	}
	ctx := context.Background()
	switch p.Type() {
	case xmpp.SubscribeType:
		j.roster.UpsertEntry(ctx, owner.ToBareJID(), peer, func(e *RosterEntry) { e.Ask = true })
	case xmpp.UnsubscribeType:
		j.roster.UpsertEntry(ctx, owner.ToBareJID(), peer, func(e *RosterEntry) {
			e.Subscription = applyTransition(e.Subscription, "rem-from")
			e.Ask = false
		})
	case xmpp.SubscribedType:
		j.roster.UpsertEntry(ctx, owner.ToBareJID(), peer, func(e *RosterEntry) {
			e.Subscription = applyTransition(e.Subscription, "add-to")
			e.Subscribe = ""
		})
	case xmpp.UnsubscribedType:
		j.roster.UpsertEntry(ctx, owner.ToBareJID(), peer, func(e *RosterEntry) {
			e.Subscription = applyTransition(e.Subscription, "rem-to")
		})
	}
	j.pushRosterToSessions(owner.ToBareJID())
	j.forwardS10N(owner, peer, p)
	return router.Done
}

// forwardS10N hands p to peer's inbound-side processing. A local peer is
// handled in-process, invoking handleInboundS10N directly: re-routing it
// through the router would re-classify it by its (still-local) From and
// run handleOutboundS10N again instead, since routeS10N's outbound/inbound
// split keys off From's locality rather than off any direction marker
// that survives a round trip. A remote peer has no such hazard (the
// owning component instance, not j.inst, picks it up), so it is routed
// normally.
func (j *JSM) forwardS10N(owner, peer *jid.JID, p *xmpp.Presence) {
	fwd, err := xmpp.NewPresenceFromElement(p, owner.ToBareJID(), peer)
	if err != nil {
		return
	}
	if j.hasUser(peer.ToBareJID()) && j.rtr.IsLocalDomain(peer.Domain()) {
		j.handleInboundS10N(owner, peer, fwd)
		return
	}
	j.route(fwd, peer, owner)
}

// handleInboundS10N applies the local recipient's half of the transition
// table (from's perspective is the remote peer; to is the local owner)
// and, for subscribe requests, leaves the entry queued rather than
// auto-approving (spec.md §4.4 "queued silently").
func (j *JSM) handleInboundS10N(peer, owner *jid.JID, p *xmpp.Presence) router.Result {
	if owner == nil {
		return router.Err
	}
	ctx := context.Background()
	switch p.Type() {
	case xmpp.SubscribeType:
		j.roster.UpsertEntry(ctx, owner.ToBareJID(), peer, func(e *RosterEntry) { e.Subscribe = "pending" })
	case xmpp.UnsubscribeType:
		j.roster.UpsertEntry(ctx, owner.ToBareJID(), peer, func(e *RosterEntry) {
			e.Subscription = applyTransition(e.Subscription, "rem-to")
			e.Subscribe = ""
		})
	case xmpp.SubscribedType:
		j.roster.UpsertEntry(ctx, owner.ToBareJID(), peer, func(e *RosterEntry) {
			e.Subscription = applyTransition(e.Subscription, "add-from")
			e.Ask = false
		})
	case xmpp.UnsubscribedType:
		j.roster.UpsertEntry(ctx, owner.ToBareJID(), peer, func(e *RosterEntry) {
			e.Subscription = applyTransition(e.Subscription, "rem-from")
		})
	}
	j.pushRosterToSessions(owner.ToBareJID())
	if j.deliverToUser(owner, p) {
		return router.Done
	}
	// no live session: the pending/updated entry will surface on the
	// next roster query (spec.md §4.4 "forward-to-primary-or-queue-pending").
	return router.Done
}

// pushRosterToSessions sends a jabber:iq:roster push to every
// roster-capable session of owner (RFC 6121 §2.1.6), mirroring the
// teacher's roster-push-on-change behavior.
func (j *JSM) pushRosterToSessions(owner *jid.JID) {
	u := j.udataFor(owner, false)
	if u == nil {
		return
	}
	entries, err := j.roster.Fetch(context.Background(), owner)
	if err != nil {
		return
	}
	for _, s := range u.all() {
		if !s.IsRosterCapable() {
			continue
		}
		s.Send(rosterIQ(s.JID(), entries))
	}
}

func rosterIQ(to *jid.JID, entries []*RosterEntry) *xmpp.IQ {
	iq := xmpp.NewIQType(newPushID(), xmpp.SetType)
	iq.SetTo(to.String())
	query := xmpp.NewElementNamespace("query", rosterIQNamespace)
	for _, e := range entries {
		if e.hidden() {
			continue
		}
		item := xmpp.NewElementName("item")
		item.SetAttribute("jid", e.Peer.String())
		item.SetAttribute("subscription", e.Subscription)
		if e.Name != "" {
			item.SetAttribute("name", e.Name)
		}
		if e.Ask {
			item.SetAttribute("ask", "subscribe")
		}
		query.AppendElement(item)
	}
	iq.AppendElement(query)
	return iq
}

func newPushID() string {
	return "roster-push-" + uuid.New().String()
}

func (j *JSM) routeIQ(pkt *router.Packet) router.Result {
	iq, ok := pkt.Element.(*xmpp.IQ)
	if !ok {
		var err error
		iq, err = xmpp.NewIQFromElement(pkt.Element, pkt.From, pkt.To)
		if err != nil {
			return router.Err
		}
	}
	if iq.IsGet() && iq.Payload() != nil && iq.Payload().Namespace() == rosterIQNamespace {
		if j.handleRosterQuery(iq) {
			return router.Done
		}
	}
	j.modsMu.RLock()
	handlers := j.iqHandlers
	j.modsMu.RUnlock()
	for _, h := range handlers {
		if h.MatchesIQ(iq) {
			h.ProcessIQ(iq)
			return router.Done
		}
	}
	// A module gets first refusal even when addressed to the bare domain
	// (XEP-0077 registration, jabber:iq:last server uptime): only once no
	// handler claims the IQ do we fall back to the built-in disco/browse
	// replies, then to a live user session.
	if pkt.To != nil && pkt.To.IsServer() && pkt.To.Domain() == j.domain {
		return j.handleServerIQ(pkt)
	}
	if j.deliverToUser(pkt.To, iq) {
		return router.Done
	}
	return router.Err
}

// handleRosterQuery answers a jabber:iq:roster get, marking the owning
// session roster-capable (spec.md §4.4 "roster-query rule").
func (j *JSM) handleRosterQuery(iq *xmpp.IQ) bool {
	owner := iq.FromJID()
	if owner == nil {
		return false
	}
	entries, err := j.roster.Fetch(context.Background(), owner.ToBareJID())
	if err != nil {
		return false
	}
	u := j.udataFor(owner.ToBareJID(), false)
	if u != nil {
		if s := u.get(owner.Resource()); s != nil {
			s.MarkRosterCapable()
		}
	}
	res := iq.ResultIQ()
	query := xmpp.NewElementNamespace("query", rosterIQNamespace)
	for _, e := range entries {
		if e.hidden() {
			continue
		}
		item := xmpp.NewElementName("item")
		item.SetAttribute("jid", e.Peer.String())
		item.SetAttribute("subscription", e.Subscription)
		if e.Name != "" {
			item.SetAttribute("name", e.Name)
		}
		if e.Ask {
			item.SetAttribute("ask", "subscribe")
		}
		query.AppendElement(item)
	}
	res.AppendElement(query)
	if u != nil {
		if s := u.get(owner.Resource()); s != nil {
			s.Send(res)
			return true
		}
	}
	return false
}

// handleServerIQ answers stanzas addressed to the bare server JID:
// disco#info, disco#items, and the legacy jabber:iq:browse (spec.md §4.4
// "Server-addressed stanzas").
func (j *JSM) handleServerIQ(pkt *router.Packet) router.Result {
	iq, ok := pkt.Element.(*xmpp.IQ)
	if !ok {
		var err error
		iq, err = xmpp.NewIQFromElement(pkt.Element, pkt.From, pkt.To)
		if err != nil {
			return router.Err
		}
	}
	if !iq.IsGet() {
		return router.Err
	}
	payload := iq.Payload()
	if payload == nil {
		return router.Err
	}
	var reply *xmpp.IQ
	switch payload.Namespace() {
	case discoInfoNamespace:
		reply = j.discoInfoReply(iq)
	case discoItemsNamespace:
		reply = j.discoItemsReply(iq)
	case browseNamespace:
		reply = j.browseReply(iq)
	default:
		return router.Err
	}
	j.fire(PhaseServer, &Event{Stanza: iq, Element: iq})
	if j.deliverToUser(iq.FromJID(), reply) {
		return router.Done
	}
	j.route(reply, iq.FromJID(), iq.ToJID())
	return router.Done
}

func (j *JSM) discoInfoReply(iq *xmpp.IQ) *xmpp.IQ {
	res := iq.ResultIQ()
	query := xmpp.NewElementNamespace("query", discoInfoNamespace)
	identity := xmpp.NewElementName("identity")
	identity.SetAttribute("category", "server")
	identity.SetAttribute("type", "im")
	identity.SetAttribute("name", "jabberwire")
	query.AppendElement(identity)

	j.modsMu.RLock()
	contributors := j.discoContributors
	j.modsMu.RUnlock()
	seen := make(map[string]struct{})
	for _, c := range contributors {
		for _, f := range c.DiscoFeatures() {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			feature := xmpp.NewElementName("feature")
			feature.SetAttribute("var", f)
			query.AppendElement(feature)
		}
	}
	res.AppendElement(query)
	return res
}

func (j *JSM) discoItemsReply(iq *xmpp.IQ) *xmpp.IQ {
	res := iq.ResultIQ()
	query := xmpp.NewElementNamespace("query", discoItemsNamespace)
	for _, n := range j.visibleBrowseNodes(iq.FromJID()) {
		item := xmpp.NewElementName("item")
		item.SetAttribute("jid", n.JID)
		if n.Name != "" {
			item.SetAttribute("name", n.Name)
		}
		query.AppendElement(item)
	}
	res.AppendElement(query)
	return res
}

func (j *JSM) browseReply(iq *xmpp.IQ) *xmpp.IQ {
	res := iq.ResultIQ()
	service := xmpp.NewElementNamespace("service", browseNamespace)
	service.SetAttribute("jid", j.domain)
	service.SetAttribute("type", "im")
	for _, n := range j.visibleBrowseNodes(iq.FromJID()) {
		item := xmpp.NewElementNamespace(n.Category, browseNamespace)
		item.SetAttribute("jid", n.JID)
		item.SetAttribute("type", n.Type)
		if n.Name != "" {
			item.SetAttribute("name", n.Name)
		}
		service.AppendElement(item)
	}
	res.AppendElement(service)
	return res
}

// visibleBrowseNodes filters cfg.BrowseTree by each entry's ACL: "" is
// public, otherwise the requester's bare JID or domain must match it.
func (j *JSM) visibleBrowseNodes(requester *jid.JID) []BrowseNode {
	var out []BrowseNode
	for _, n := range j.cfg.BrowseTree {
		if n.ACL == "" || n.ACL == requester.ToBareJID().String() || n.ACL == requester.Domain() {
			out = append(out, n)
		}
	}
	return out
}
