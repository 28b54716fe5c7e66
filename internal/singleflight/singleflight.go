package singleflight

import (
	"sync"
)

// Group coalesces concurrent calls with the same key so only one executes.
// It backs the token cache: when many requests hit an expired token at once,
// a single credential fetch serves them all.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

// call represents an active or completed function call.
type call struct {
	wg  sync.WaitGroup
	val interface{}
	err error
}

// New creates a new singleflight Group.
func New() *Group {
	return &Group{
		m: make(map[string]*call),
	}
}

// Do executes fn, making sure only one execution is in flight for a given key
// at a time. Duplicate callers wait for the original to complete and receive
// the same results. The key is released as soon as the call completes, so a
// later call with the same key executes again.
func (g *Group) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err
	}

	c := &call{}
	c.wg.Add(1)
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()

	c.wg.Done()
	return c.val, c.err
}

// Forget removes the key from the group, allowing the next call with the same
// key to execute even if a previous call is still in progress.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
