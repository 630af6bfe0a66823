/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package register implements XEP-0077 in-band registration as an
// IQHandler over jsm's PhasePreRegister/PhaseRegister events, grounded
// on meszmate-xmpp-go/plugins/register's field set (username/password/
// email/instructions) and jabberd14's mod_register.cc create/remove
// actions. Registration UI/data forms (XEP-0004) are out of scope; only
// the legacy username+password exchange is implemented.
package register

import (
	"context"

	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/jsm"
	"github.com/ortuman/jabberwire/log"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/xdb"
	"github.com/ortuman/jabberwire/xmpp"
	"golang.org/x/crypto/bcrypt"
)

const namespace = "jabber:iq:register"

const instructions = "Choose a username and password to register with this service."

// Register answers jabber:iq:register get/set, persisting a bcrypt hash
// of the chosen password through xdb.Cache under the "password"
// namespace and firing jsm.PhasePreRegister/PhaseRegister so other
// modules can veto or react to account creation.
type Register struct {
	j     *jsm.JSM
	cache *xdb.Cache
}

// New wires a Register module against j.
func New(j *jsm.JSM, cache *xdb.Cache) *Register {
	return &Register{j: j, cache: cache}
}

// Name satisfies jsm.Module.
func (r *Register) Name() string { return "register" }

// DiscoFeatures satisfies jsm.DiscoContributor.
func (r *Register) DiscoFeatures() []string { return []string{namespace} }

// MatchesIQ satisfies jsm.IQHandler.
func (r *Register) MatchesIQ(iq *xmpp.IQ) bool {
	return (iq.IsGet() || iq.IsSet()) && iq.Elements().ChildNamespace("query", namespace) != nil
}

// ProcessIQ satisfies jsm.IQHandler.
func (r *Register) ProcessIQ(iq *xmpp.IQ) {
	if iq.IsGet() {
		r.sendForm(iq)
		return
	}
	r.create(iq)
}

func (r *Register) sendForm(iq *xmpp.IQ) {
	res := iq.ResultIQ()
	query := xmpp.NewElementNamespace("query", namespace)
	instr := xmpp.NewElementName("instructions")
	instr.SetText(instructions)
	query.AppendElement(instr)
	query.AppendElement(xmpp.NewElementName("username"))
	query.AppendElement(xmpp.NewElementName("password"))
	res.AppendElement(query)
	r.route(res, iq)
}

func (r *Register) create(iq *xmpp.IQ) {
	query := iq.Elements().ChildNamespace("query", namespace)
	username := childText(query, "username")
	password := childText(query, "password")
	if username == "" || password == "" {
		r.route(iq.BadRequestError(), iq)
		return
	}
	owner, err := jid.New(username, iq.ToJID().Domain(), "", true)
	if err != nil {
		r.route(iq.BadRequestError(), iq)
		return
	}
	evt := &jsm.Event{Peer: owner.String()}
	if r.j.FirePreRegister(evt) == jsm.Handled {
		r.route(iq.NotAllowedError(), iq)
		return
	}
	existing, err := r.cache.Get(context.Background(), owner, "password")
	if err != nil {
		log.Warnf("register: lookup failed for %s: %v", owner, err)
		r.route(iq.InternalServerError(), iq)
		return
	}
	if existing != nil {
		r.route(iq.ConflictError(), iq)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Warnf("register: password hash failed for %s: %v", owner, err)
		r.route(iq.InternalServerError(), iq)
		return
	}
	payload := xmpp.NewElementName("payload")
	payload.SetText(string(hash))
	if err := r.cache.Set(context.Background(), owner, "password", payload); err != nil {
		log.Warnf("register: store failed for %s: %v", owner, err)
		r.route(iq.InternalServerError(), iq)
		return
	}
	r.j.FireRegister(evt)
	r.route(iq.ResultIQ(), iq)
}

func (r *Register) route(el xmpp.XElement, iq *xmpp.IQ) {
	pkt := router.NewPacket(el, iq.FromJID(), iq.ToJID())
	if err := router.Instance().Route(pkt); err != nil {
		log.Debugf("register: route failed: %v", err)
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
