/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package offline implements the JSM offline-message queue: messages
// for a user with no active session are archived in memory, up to a
// configured queue size, and handed back when a session's first
// available presence, or one raising it from a negative priority, leaves
// it at priority ≥ 0 (spec.md §4.4 "offline queue").
package offline

import (
	"sync"
	"time"

	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/log"
	"github.com/ortuman/jabberwire/xmpp"
)

const defaultQueueSize = 100

// Config carries the module's single tunable, mirroring the teacher's
// own offline.Config{QueueSize}.
type Config struct {
	QueueSize int `yaml:"queue_size"`
}

// Offline is a jsm.OfflineQueue implementation. Archive runs off an
// actor goroutine (the teacher's archiveMessage is similarly
// actor-dispatched in module/offline/offline.go) so a burst of
// incoming messages for an offline user never blocks the router's
// delivery path; Drain must return synchronously to its caller, so it
// is served directly off the guarded queue map instead.
type Offline struct {
	cfg     Config
	actorCh chan func()
	doneCh  chan struct{}

	mu    sync.Mutex
	queue map[string][]*xmpp.Message // bare JID -> archived messages
}

// New starts an Offline module with the given config.
func New(cfg Config) *Offline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	o := &Offline{
		cfg:     cfg,
		actorCh: make(chan func(), 64),
		doneCh:  make(chan struct{}),
		queue:   make(map[string][]*xmpp.Message),
	}
	go o.actorLoop()
	return o
}

// Close stops the actor goroutine.
func (o *Offline) Close() { close(o.doneCh) }

// Name satisfies jsm.Module.
func (o *Offline) Name() string { return "offline" }

func (o *Offline) actorLoop() {
	for {
		select {
		case f := <-o.actorCh:
			f()
		case <-o.doneCh:
			return
		}
	}
}

// Archive queues msg for to, dropping the oldest-if-full semantics of a
// hard cap: once the queue is at cfg.QueueSize the message is dropped
// and never enqueued (the caller — jsm.routeMessage — has already
// decided the message is storable; a full queue means it is lost rather
// than bounced, since by the time Archive runs the original sender has
// already moved on).
func (o *Offline) Archive(to *jid.JID, msg *xmpp.Message) {
	o.actorCh <- func() {
		o.archive(to, msg)
	}
}

func (o *Offline) archive(to *jid.JID, msg *xmpp.Message) {
	key := to.ToBareJID().String()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue[key]) >= o.cfg.QueueSize {
		log.Warnf("offline: queue full for %s, dropping message id=%s", key, msg.ID())
		return
	}
	o.queue[key] = append(o.queue[key], msg)
	log.Infof("offline: archived message id=%s for %s", msg.ID(), key)
}

// Drain returns, in insertion order, every archived message for to that
// is still live, applying the XEP-0023 expire-hint rule: a message whose
// hint has fully elapsed since it was stored is dropped; one still live
// has its hint rewritten to the remaining seconds and its storage stamp
// cleared before being handed back for delivery.
func (o *Offline) Drain(to *jid.JID) []*xmpp.Message {
	key := to.ToBareJID().String()
	o.mu.Lock()
	queued := o.queue[key]
	delete(o.queue, key)
	o.mu.Unlock()

	msgs := make([]*xmpp.Message, 0, len(queued))
	for _, m := range queued {
		if secs, ok := m.ExpireSeconds(); ok {
			elapsed := time.Since(m.StoredAt())
			if elapsed >= time.Duration(secs)*time.Second {
				log.Infof("offline: dropping expired message id=%s for %s", m.ID(), key)
				continue
			}
			m.SetExpireSeconds(secs - int(elapsed.Seconds()))
		}
		m.ClearStoredAt()
		msgs = append(msgs, m)
	}
	return msgs
}
