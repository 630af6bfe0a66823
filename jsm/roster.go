/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package jsm

import (
	"context"
	"strconv"
	"strings"

	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/xdb"
	"github.com/ortuman/jabberwire/xmpp"
)

const rosterNamespace = "roster"

// Subscription values (spec.md §4.4 transition table).
const (
	SubNone = "none"
	SubTo   = "to"
	SubFrom = "from"
	SubBoth = "both"
)

// RosterEntry is one peer row of a user's roster (jabberd14's
// mod_roster.c roster item, generalized to Go field names).
type RosterEntry struct {
	Peer         *jid.JID
	Name         string
	Subscription string
	Ask          bool   // a subscribe request to Peer is pending
	Subscribe    string // a pending inbound subscribe request, queued silently
}

// hidden reports spec.md §4.4 "An entry with subscription=none, no
// pending ask, and no subscribe flag is hidden from roster pushes".
func (e *RosterEntry) hidden() bool {
	return e.Subscription == SubNone && !e.Ask && e.Subscribe == ""
}

// RosterStore persists each user's roster as a single XDB document
// under the "roster" namespace, serialized as one line per entry
// (peer\tname\tsubscription\task\tsubscribe) — storage/sql's XDB
// backend only round-trips a single text node per document, so a
// multi-entry roster is flattened into one delimited blob rather than
// an XML subtree.
type RosterStore struct {
	cache *xdb.Cache
}

// NewRosterStore wraps cache for roster persistence.
func NewRosterStore(cache *xdb.Cache) *RosterStore {
	return &RosterStore{cache: cache}
}

// Fetch loads owner's roster, or an empty roster if none is stored yet.
func (rs *RosterStore) Fetch(ctx context.Context, owner *jid.JID) ([]*RosterEntry, error) {
	doc, err := rs.cache.Get(ctx, owner, rosterNamespace)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return decodeRoster(doc.Text())
}

// Put replaces owner's stored roster with entries.
func (rs *RosterStore) Put(ctx context.Context, owner *jid.JID, entries []*RosterEntry) error {
	payload := xmpp.NewElementName("payload")
	payload.SetText(encodeRoster(entries))
	return rs.cache.Set(ctx, owner, rosterNamespace, payload)
}

// UpsertEntry loads owner's roster, applies mutate to the entry for
// peer (creating it if absent), persists, and returns the updated entry.
func (rs *RosterStore) UpsertEntry(ctx context.Context, owner, peer *jid.JID, mutate func(*RosterEntry)) (*RosterEntry, error) {
	entries, err := rs.Fetch(ctx, owner)
	if err != nil {
		return nil, err
	}
	var target *RosterEntry
	for _, e := range entries {
		if e.Peer.MatchesBare(peer) {
			target = e
			break
		}
	}
	if target == nil {
		target = &RosterEntry{Peer: peer.ToBareJID(), Subscription: SubNone}
		entries = append(entries, target)
	}
	mutate(target)
	if err := rs.Put(ctx, owner, entries); err != nil {
		return nil, err
	}
	return target, nil
}

func encodeRoster(entries []*RosterEntry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.Peer.ToBareJID().String())
		sb.WriteByte('\t')
		sb.WriteString(e.Name)
		sb.WriteByte('\t')
		sb.WriteString(e.Subscription)
		sb.WriteByte('\t')
		sb.WriteString(strconv.FormatBool(e.Ask))
		sb.WriteByte('\t')
		sb.WriteString(e.Subscribe)
	}
	return sb.String()
}

func decodeRoster(raw string) ([]*RosterEntry, error) {
	if raw == "" {
		return nil, nil
	}
	var entries []*RosterEntry
	for _, line := range strings.Split(raw, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 5 {
			continue
		}
		peer, err := jid.NewString(parts[0], false)
		if err != nil {
			continue
		}
		ask, _ := strconv.ParseBool(parts[3])
		entries = append(entries, &RosterEntry{
			Peer:         peer,
			Name:         parts[1],
			Subscription: parts[2],
			Ask:          ask,
			Subscribe:    parts[4],
		})
	}
	return entries, nil
}

// applyTransition implements spec.md §4.4's transition table: event is
// one of "add-from", "add-to", "rem-from", "rem-to"; current is the A→B
// subscription before the event.
func applyTransition(current, event string) string {
	switch event {
	case "add-from":
		switch current {
		case SubNone:
			return SubTo
		case SubFrom:
			return SubBoth
		}
	case "add-to":
		switch current {
		case SubNone:
			return SubFrom
		case SubTo:
			return SubBoth
		}
	case "rem-from":
		switch current {
		case SubBoth:
			return SubFrom
		case SubTo:
			return SubNone
		}
	case "rem-to":
		switch current {
		case SubBoth:
			return SubTo
		case SubFrom:
			return SubNone
		}
	}
	return current
}
