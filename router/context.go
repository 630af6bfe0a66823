/*
 * Copyright (c) 2018 Miguel Ángel Ortuño.
 * See the LICENSE file for more information.
 */

package router

import "sync"

// Context is a stream-scoped key/value bag, matching the teacher's
// router.Context usage in c2s.go (SetString/String, SetBool/Bool,
// SetObject/Object) plus a Terminate signal streams select on to know
// their context has been torn down.
type Context struct {
	mu     sync.RWMutex
	values map[string]interface{}
	doneCh chan struct{}
	once   sync.Once
}

// NewContext returns an empty, live Context.
func NewContext() *Context {
	return &Context{values: make(map[string]interface{}), doneCh: make(chan struct{})}
}

// SetString stores a string value under key.
func (c *Context) SetString(v, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = v
}

// String reads a string value stored under key, or "".
func (c *Context) String(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.values[key].(string); ok {
		return v
	}
	return ""
}

// SetBool stores a bool value under key.
func (c *Context) SetBool(v bool, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = v
}

// Bool reads a bool value stored under key, or false.
func (c *Context) Bool(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.values[key].(bool); ok {
		return v
	}
	return false
}

// SetObject stores an arbitrary value under key.
func (c *Context) SetObject(v interface{}, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = v
}

// Object reads the value stored under key, or nil.
func (c *Context) Object(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// Done returns a channel closed by Terminate.
func (c *Context) Done() <-chan struct{} { return c.doneCh }

// Terminate closes Done, signaling dependent goroutines (modules'
// actorLoops, ping timers, …) to exit. Safe to call more than once.
func (c *Context) Terminate() {
	c.once.Do(func() { close(c.doneCh) })
}
