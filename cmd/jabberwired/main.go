/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Command jabberwired is the process entry point: it loads config,
// wires the router, the XDB cache and its SQL storage component, the
// session manager and its modules, and the component connector, then
// blocks until a terminating signal arrives. Grounded on the teacher's
// own process wiring in c2s.go's package-level initialization, pulled
// out into an explicit main the teacher left implicit.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ortuman/jabberwire/config"
	"github.com/ortuman/jabberwire/conn"
	"github.com/ortuman/jabberwire/jid"
	"github.com/ortuman/jabberwire/jsm"
	"github.com/ortuman/jabberwire/jsm/modules/disco"
	"github.com/ortuman/jabberwire/jsm/modules/lastactivity"
	"github.com/ortuman/jabberwire/jsm/modules/offline"
	"github.com/ortuman/jabberwire/jsm/modules/private"
	"github.com/ortuman/jabberwire/jsm/modules/register"
	"github.com/ortuman/jabberwire/jsm/modules/roster"
	"github.com/ortuman/jabberwire/jsm/modules/vcard"
	"github.com/ortuman/jabberwire/log"
	"github.com/ortuman/jabberwire/router"
	"github.com/ortuman/jabberwire/sched"
	sqlstorage "github.com/ortuman/jabberwire/storage/sql"
	"github.com/ortuman/jabberwire/xdb"
	"github.com/ortuman/jabberwire/xmpp"
	"net"
)

func main() {
	configPath := flag.String("config", "jabberwired.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("jabberwired: %v", err)
	}
	setUpLogging(cfg.Logger)

	rtr := router.New()
	sch := sched.New()
	defer sch.Stop()

	storage, err := openStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("jabberwired: storage: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := storage.Init(ctx); err != nil {
		cancel()
		log.Fatalf("jabberwired: storage init: %v", err)
	}
	cancel()
	defer storage.Close()

	xdbInst := router.NewInstance(cfg.Domain, router.TypeXDB)
	rtr.SetXDBInstance(xdbInst)
	storage.RegisterXDB(xdbInst)
	cache := xdb.NewCacheWithTimeouts(cfg.Domain, xdbInst, cfg.XDB.ResendAfter, cfg.XDB.HardTimeout, cfg.XDB.SweepInterval)
	defer cache.Close()

	j := jsm.New(cfg.Domain, &cfg.JSM, rtr, cache)
	j.BindRouter(cfg.Domain)
	wireModules(j, cfg, cache)

	if cfg.Components.ListenAddress != "" || len(cfg.Components.Dial) > 0 {
		startComponents(rtr, sch, cfg.Components)
	}

	log.Infof("jabberwired: serving domain %q", cfg.Domain)
	waitForSignal()
	log.Infof("jabberwired: shutting down")
}

func setUpLogging(cfg config.LoggerConfig) {
	switch cfg.Level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
	if cfg.LogPath == "" {
		return
	}
	f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Warnf("jabberwired: cannot open log file %q: %v", cfg.LogPath, err)
		return
	}
	log.SetOutput(f)
}

func openStorage(cfg config.StorageConfig) (*sqlstorage.Storage, error) {
	if cfg.Type == "" || cfg.Type == "mock" {
		st, _ := sqlstorage.NewMock()
		return st, nil
	}
	return sqlstorage.Open(sqlstorage.Driver(cfg.Type), cfg.DSN)
}

// wireModules registers every jsm/modules/* package against j exactly
// as the teacher's initializeModules call-out does in c2s.go. disco is
// always wired; every other module is gated by cfg.JSM.Enabled, and each
// account-level feature is registered with disco here.
func wireModules(j *jsm.JSM, cfg *config.Config, cache *xdb.Cache) {
	info := disco.New()
	j.RegisterIQHandler(info)
	j.RegisterDiscoProvider(info)

	if enabled(cfg, "offline") {
		off := offline.New(offline.Config{QueueSize: cfg.JSM.OfflineQueueSize})
		j.SetOfflineQueue(off)
	}
	if enabled(cfg, "roster") {
		r := roster.New()
		j.RegisterDiscoProvider(r)
	}
	if enabled(cfg, "vcard") {
		v := vcard.New(cache)
		j.RegisterIQHandler(v)
		info.RegisterAccountFeature("vcard-temp")
	}
	if enabled(cfg, "private") {
		p := private.New(cache)
		j.RegisterIQHandler(p)
		info.RegisterAccountFeature("jabber:iq:private")
	}
	if enabled(cfg, "lastactivity") {
		la := lastactivity.New(j, cache)
		j.RegisterIQHandler(la)
		info.RegisterAccountFeature("jabber:iq:last")
	}
	if enabled(cfg, "register") {
		reg := register.New(j, cache)
		j.RegisterIQHandler(reg)
		info.RegisterAccountFeature("jabber:iq:register")
	}
}

func enabled(cfg *config.Config, name string) bool {
	if len(cfg.JSM.Enabled) == 0 {
		return true
	}
	_, ok := cfg.JSM.Enabled[name]
	return ok
}

// startComponents wires the XEP-0114 connector, binding an accept
// listener (if configured) and any statically configured outbound
// links, and bounces queue entries that outlive queueTimeout back to
// their sender through the router as a remote-server-timeout error
// (a stale entry that is itself an error is dropped).
func startComponents(rtr *router.Router, sch *sched.Scheduler, cfg config.ComponentsConfig) {
	bounce := func(el xmpp.XElement) {
		if el.Type() == xmpp.ErrorType {
			return
		}
		errEl := xmpp.NewErrorElementFromElement(el, xmpp.ErrRemoteServerTimeout, nil)
		to, err1 := jid.NewString(errEl.To(), false)
		from, err2 := jid.NewString(errEl.From(), false)
		if err1 != nil || err2 != nil {
			log.Warnf("jabberwired: dropping undeliverable component stanza with unparsable to/from")
			return
		}
		if err := rtr.Route(router.NewPacket(errEl, to, from)); err != nil {
			log.Debugf("jabberwired: bounce route failed: %v", err)
		}
	}

	ac := conn.NewAcceptConnector(rtr, sch, cfg.QueueTimeout, cfg.HandshakeTimeout, bounce)
	for _, c := range cfg.Accept {
		ac.RegisterComponent(c.Domain, c.Secret)
	}
	if cfg.ListenAddress != "" {
		ln, err := net.Listen("tcp", cfg.ListenAddress)
		if err != nil {
			log.Fatalf("jabberwired: components listen %q: %v", cfg.ListenAddress, err)
		}
		go func() {
			if err := ac.Serve(ln); err != nil {
				log.Warnf("jabberwired: components listener stopped: %v", err)
			}
		}()
	}

	dialer := conn.NewDialer()
	for _, c := range cfg.Dial {
		cc := conn.NewConnectConnector(c.Domain, c.Secret, dialer, rtr, sch)
		cc.Start()
	}
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
