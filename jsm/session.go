/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package jsm

import (
	"sync"
	"time"

	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/xmpp"
)

// Deliverer is what a connector/stream implementation must satisfy to
// carry one JSM session (the teacher's router.C2S interface,
// generalized so jsm never imports c2s and c2s adapts to this instead).
type Deliverer interface {
	ID() string
	JID() *jid.JID
	Resource() string
	Context() *router.Context
	SendElement(el xmpp.XElement)
	Disconnect(err error)
}

// Session is one bound resource's JSM-side state (jabberd14's
// `session` object).
type Session struct {
	mu         sync.RWMutex
	jid        *jid.JID
	d          Deliverer
	presence   *xmpp.Presence
	priority   int8
	connectAt  time.Time
	rosterOnce bool
}

func newSession(j *jid.JID, d Deliverer) *Session {
	return &Session{jid: j, d: d, connectAt: time.Now()}
}

// JID returns the session's full JID.
func (s *Session) JID() *jid.JID { return s.jid }

// Resource returns the session's resource part.
func (s *Session) Resource() string { return s.jid.Resource() }

// Send delivers el to the session's connector.
func (s *Session) Send(el xmpp.XElement) { s.d.SendElement(el) }

// Terminate closes the underlying connector with err.
func (s *Session) Terminate(err error) { s.d.Disconnect(err) }

// SetPresence records p as the session's current presence, clamping
// Priority() into the session's priority field.
func (s *Session) SetPresence(p *xmpp.Presence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = p
	s.priority = p.Priority()
}

// Presence returns the session's last outbound presence, or nil.
func (s *Session) Presence() *xmpp.Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence
}

// Priority returns the session's last-known priority.
func (s *Session) Priority() int8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priority
}

// MarkRosterCapable records that this session has queried its roster
// at least once (spec.md §4.4 "marks the session roster-capable").
func (s *Session) MarkRosterCapable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rosterOnce = true
}

// IsRosterCapable reports whether MarkRosterCapable has been called.
func (s *Session) IsRosterCapable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rosterOnce
}

// udata is the bare-JID-scoped account state: every bound resource plus
// the session used to break primary-session ties.
type udata struct {
	mu        sync.RWMutex
	bare      *jid.JID
	sessions  map[string]*Session // keyed by resource
}

func newUdata(bare *jid.JID) *udata {
	return &udata{bare: bare, sessions: make(map[string]*Session)}
}

func (u *udata) put(s *Session) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sessions[s.Resource()] = s
}

func (u *udata) remove(resource string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.sessions, resource)
}

func (u *udata) get(resource string) *Session {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.sessions[resource]
}

func (u *udata) all() []*Session {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]*Session, 0, len(u.sessions))
	for _, s := range u.sessions {
		out = append(out, s)
	}
	return out
}

// primary returns the session with the highest non-negative priority,
// latest-connected breaking ties; nil when every session's priority is
// negative.
func (u *udata) primary() *Session {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var best *Session
	for _, s := range u.sessions {
		if s.Priority() < 0 {
			continue
		}
		if best == nil {
			best = s
			continue
		}
		if s.Priority() > best.Priority() ||
			(s.Priority() == best.Priority() && s.connectAt.After(best.connectAt)) {
			best = s
		}
	}
	return best
}

func (u *udata) isEmpty() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.sessions) == 0
}
