/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package jsm

// Config drives which modules are wired and the offline/browse
// behavior (SPEC_FULL.md §4.4 "compile-time module registry").
type Config struct {
	// Enabled gates each module by name, mirroring the teacher's
	// cfg.Modules.Enabled["name"] map used throughout c2s.go.
	Enabled map[string]struct{} `yaml:"enabled"`

	// StorableTypes is the offline queue's storable message-type set
	// (spec.md §4.4 "by default all of normal, chat, headline,
	// groupchat, error" — error is intentionally never stored; see
	// DefaultStorableTypes).
	StorableTypes []string `yaml:"storable_types"`

	// OfflineQueueSize caps the number of messages archived per user.
	OfflineQueueSize int `yaml:"offline_queue_size"`

	// BrowseTree is the legacy browse response for the server JID,
	// filtered per entry by ACL (spec.md §4.4 "Server-addressed
	// stanzas").
	BrowseTree []BrowseNode `yaml:"browse_tree"`
}

// BrowseNode is one entry of the legacy jabber:iq:browse tree.
type BrowseNode struct {
	JID      string `yaml:"jid"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Type     string `yaml:"type"`
	ACL      string `yaml:"acl"` // "" = public; else a bare JID or domain suffix
}

// DefaultStorableTypes is the default offline-storable message-type
// set: "normal", "chat", "headline", "groupchat" — type="error" is
// never queued (spec.md §4.4, §7 "never bounce an error" carries over
// to "never archive one either").
func DefaultStorableTypes() map[string]struct{} {
	return map[string]struct{}{
		"normal":    {},
		"chat":      {},
		"headline":  {},
		"groupchat": {},
	}
}
