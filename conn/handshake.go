/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package conn implements the XEP-0114 component connector: the
// accept side (jabberwired listens, an external component dials in)
// and the connect side (jabberwired dials an external component),
// grounded on jabberd14's base_accept.cc and the teacher's
// s2s/dialer.go (spec.md §4.5).
package conn

import (
	"crypto/sha1"
	"encoding/hex"
)

// handshake computes the XEP-0114 hex(SHA1(streamID+secret)) digest,
// lowercase, matching base_accept.cc's shahash_r(id+secret) check.
func handshake(streamID, secret string) string {
	h := sha1.New()
	h.Write([]byte(streamID + secret))
	return hex.EncodeToString(h.Sum(nil))
}
