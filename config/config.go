/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package config loads the process-wide YAML configuration document
// read by cmd/jabberwired at start-up. No config.go ever shipped
// alongside c2s/c2s.go or s2s/dialer.go in the teacher's own tree, so
// the shape below is reverse-engineered directly from their field
// accesses (s.cfg.ConnectTimeout, s.cfg.SASL, s.cfg.Compression.Level,
// s.cfg.ResourceConflict, s.cfg.MaxStanzaSize, s.cfg.Scion.Port, …)
// rather than copied from a teacher file. It follows the teacher's own
// yaml.v2 idiom (struct tags, no validation library).
package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/ortuman/jabberwire/jsm"
	"gopkg.in/yaml.v2"
)

// ResourceConflict selects what happens when a second session binds a
// resource already in use (mirrors c2s.go's switch s.cfg.ResourceConflict).
type ResourceConflict int

const (
	// Disallow rejects the new binding with a conflict error.
	Disallow ResourceConflict = iota
	// Override replaces the existing session with the new one.
	Override
	// Replace behaves like Override but terminates the old session
	// gracefully first (unavailable presence broadcast) rather than
	// dropping it.
	Replace
)

// UnmarshalYAML lets the policy be written as a bare string in YAML.
func (r *ResourceConflict) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch s {
	case "disallow":
		*r = Disallow
	case "override":
		*r = Override
	case "replace":
		*r = Replace
	default:
		return fmt.Errorf("config: unknown resource_conflict policy %q", s)
	}
	return nil
}

// Config is the top-level document unmarshaled from the YAML config
// file passed to jabberwired.
type Config struct {
	Domain  string        `yaml:"domain"`
	Logger  LoggerConfig  `yaml:"logger"`
	Storage StorageConfig `yaml:"storage"`
	XDB     XDBConfig     `yaml:"xdb"`
	C2S     C2SConfig     `yaml:"c2s"`
	S2S     S2SConfig     `yaml:"s2s"`
	JSM     jsm.Config    `yaml:"jsm"`

	// Components configures external (XEP-0114) component links; the
	// zero value disables the connector entirely (no listener, no dials).
	Components ComponentsConfig `yaml:"components"`
}

// LoggerConfig drives log.SetLevel/log.SetOutput at start-up.
type LoggerConfig struct {
	Level   string `yaml:"level"`    // "debug", "info", "warn", "error"
	LogPath string `yaml:"log_path"` // "" logs to stderr
}

// StorageConfig selects and configures the XDB-backed storage/sql
// driver (spec.md §4.3's storage component), mirroring the teacher's
// retained mysql/sqlite3/pq/squirrel/sqlmock dependency quartet.
type StorageConfig struct {
	// Type is one of "mysql", "postgres", "sqlite3" (go-sql-driver/mysql,
	// lib/pq, mattn/go-sqlite3 respectively); "mock" selects go-sqlmock
	// for tests.
	Type string `yaml:"type"`
	DSN  string `yaml:"dsn"`
}

// XDBConfig tunes the blocking XDB request/response cache (xdb.Cache),
// overriding its package-level defaults when non-zero.
type XDBConfig struct {
	ResendAfter   time.Duration `yaml:"resend_after"`
	HardTimeout   time.Duration `yaml:"hard_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// CompressionConfig mirrors s.cfg.Compression.Level in c2s.go.
type CompressionConfig struct {
	// Level is a compress.Level value ("none", "best_speed",
	// "best_compression"), kept as the raw string; no package in this
	// module reads it after Load.
	Level string `yaml:"level"`
}

// C2SConfig holds client-to-server listener settings, mirroring the
// teacher's c2s.Config fields. This module has no c2s listener: Load
// fills Domain from Config.Domain when it is empty, and no other package
// reads these fields.
type C2SConfig struct {
	Domain           string            `yaml:"domain"`
	ConnectTimeout   int               `yaml:"connect_timeout"` // seconds; mirrors cfg.ConnectTimeout
	MaxStanzaSize    int               `yaml:"max_stanza_size"`
	ResourceConflict ResourceConflict  `yaml:"resource_conflict"`
	SASL             []string          `yaml:"sasl"`
	Compression      CompressionConfig `yaml:"compression"`
}

// ScionConfig holds SCION/QUIC s2s listener settings, mirroring
// s2s/scionserver.go's s.cfg.Scion. This module has no s2s listener and
// no package reads these fields.
type ScionConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// S2SConfig holds server-to-server listener and dialer settings; no
// package in this module reads them.
type S2SConfig struct {
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Scion       *ScionConfig  `yaml:"scion"`
}

// ComponentConfig is one statically configured XEP-0114 external
// component, either accepted (the local listener authenticates it) or
// dialed out to (jabberwired authenticates itself).
type ComponentConfig struct {
	Domain string `yaml:"domain"`
	Secret string `yaml:"secret"`
	// Dial is parsed but not read: whether jabberwired dials a component
	// is decided by which list (Accept or Dial) of ComponentsConfig holds
	// it, and a dialed component is reached at Domain through
	// conn.Dialer's lookup.
	Dial string `yaml:"dial"`
}

// ComponentsConfig configures the XEP-0114 component connector
// (package conn, spec.md §4.5): a listener accepting any component in
// Accept, plus zero or more outbound links jabberwired dials itself.
type ComponentsConfig struct {
	ListenAddress string        `yaml:"listen_address"`
	QueueTimeout  time.Duration `yaml:"queue_timeout"`
	// HandshakeTimeout bounds how long the accept side waits for a
	// connecting component's <handshake/> once the stream is open
	// (spec.md §4.5 step 2, default 5s); timing out sends a
	// connection-timeout stream error and closes the link.
	HandshakeTimeout time.Duration     `yaml:"handshake_timeout"`
	Accept           []ComponentConfig `yaml:"accept"`
	Dial             []ComponentConfig `yaml:"dial"`
}

// Default returns a Config with the same effective values the teacher
// falls back to when a field is left at its YAML zero value.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{Level: "info"},
		C2S: C2SConfig{
			ConnectTimeout:   5,
			MaxStanzaSize:    131072,
			ResourceConflict: Override,
			SASL:             []string{"PLAIN", "SCRAM-SHA-1"},
		},
		XDB: XDBConfig{
			ResendAfter:   10 * time.Second,
			HardTimeout:   30 * time.Second,
			SweepInterval: 10 * time.Second,
		},
		JSM: jsm.Config{
			Enabled:          map[string]struct{}{},
			StorableTypes:    []string{"normal", "chat", "headline", "groupchat"},
			OfflineQueueSize: 100,
		},
		Components: ComponentsConfig{
			QueueTimeout:     10 * time.Second,
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

// Load reads and parses the YAML document at path over Default(), so a
// partial file only needs to override what it cares about.
func Load(path string) (*Config, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %v", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: %v", err)
	}
	if cfg.Domain == "" {
		return nil, fmt.Errorf("config: domain is required")
	}
	if cfg.C2S.Domain == "" {
		cfg.C2S.Domain = cfg.Domain
	}
	return cfg, nil
}
