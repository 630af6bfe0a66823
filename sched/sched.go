/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

// Package sched implements the process-wide named scheduler used for
// the component connectors' timers: AcceptConnector's recurring stale
// queue sweep and ConnectConnector's reconnect backoff (the XDB cache
// runs its own sweep ticker). It generalizes the teacher's
// own one-off `time.AfterFunc(timeout, s.connectTimeout)` idiom
// (c2s.go) into a registry a caller can look up and cancel by name,
// rather than holding the *time.Timer itself.
package sched

import (
	"sync"
	"time"

	"github.com/ortuman/jabberwire/log"
)

// Scheduler holds every named timer the process has registered. The
// zero value is not usable; construct one with New.
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	tickers map[string]*time.Ticker
}

// New returns an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		timers:  make(map[string]*time.Timer),
		tickers: make(map[string]*time.Ticker),
	}
}

// After schedules fn to run once after d, under name. Re-registering the
// same name cancels the previous timer first (mirrors c2s.go's pattern
// of replacing s.connectTm on every reconnect attempt).
func (s *Scheduler) After(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
	}
	s.timers[name] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, name)
		s.mu.Unlock()
		fn()
	})
}

// Every schedules fn to run every d, under name, until Cancel is called.
// Re-registering the same name cancels the previous ticker first.
func (s *Scheduler) Every(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tickers[name]; ok {
		t.Stop()
	}
	ticker := time.NewTicker(d)
	s.tickers[name] = ticker
	go func() {
		for range ticker.C {
			fn()
		}
	}()
	log.Debugf("sched: %q scheduled every %s", name, d)
}

// Cancel stops and removes the timer or ticker registered under name. A
// name with nothing registered is a no-op.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
	if t, ok := s.tickers[name]; ok {
		t.Stop()
		delete(s.tickers, name)
	}
}

// Stop cancels every registered timer and ticker (process shutdown).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range s.timers {
		t.Stop()
		delete(s.timers, name)
	}
	for name, t := range s.tickers {
		t.Stop()
		delete(s.tickers, name)
	}
}
