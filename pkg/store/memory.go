package store

import (
	"context"
	"sync"

	"github.com/yshengliao/swcache/pkg/fetch"
)

// Memory is an in-process Storage. A positive maxBytes bounds the total
// body size across all caches.
type Memory struct {
	mu       sync.RWMutex
	names    []string
	caches   map[string]*memoryCache
	maxBytes int64
	used     int64
}

type memoryEntry struct {
	req  *fetch.Request
	resp *fetch.Response
}

// memoryCache is one named cache. A handle outlives Memory.Delete: it then
// reads through to a cache re-opened under the same name, and a Put
// registers the name again, as reopening by name does.
type memoryCache struct {
	parent   *Memory
	name     string
	entries  []memoryEntry
	detached bool
}

// NewMemory creates an empty in-memory storage.
func NewMemory(maxBytes int64) *Memory {
	return &Memory{caches: make(map[string]*memoryCache), maxBytes: maxBytes}
}

// Open implements Storage.
func (m *Memory) Open(_ context.Context, name string) (Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[name]
	if !ok {
		c = &memoryCache{parent: m, name: name}
		m.caches[name] = c
		m.names = append(m.names, name)
	}
	return c, nil
}

// Has implements Storage.
func (m *Memory) Has(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.caches[name]
	return ok, nil
}

// Delete implements Storage.
func (m *Memory) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[name]
	if !ok {
		return false, nil
	}
	for _, e := range c.entries {
		m.used -= e.resp.Size()
	}
	c.entries = nil
	c.detached = true
	delete(m.caches, name)
	for i, n := range m.names {
		if n == name {
			m.names = append(m.names[:i], m.names[i+1:]...)
			break
		}
	}
	return true, nil
}

// Keys implements Storage.
func (m *Memory) Keys(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.names...), nil
}

// Match implements Storage.
func (m *Memory) Match(ctx context.Context, req *fetch.Request, opts MatchOptions) (*fetch.Response, error) {
	m.mu.RLock()
	var caches []*memoryCache
	if opts.CacheName != "" {
		if c, ok := m.caches[opts.CacheName]; ok {
			caches = append(caches, c)
		}
	} else {
		for _, n := range m.names {
			caches = append(caches, m.caches[n])
		}
	}
	m.mu.RUnlock()

	for _, c := range caches {
		resp, err := c.Match(ctx, req, opts)
		if err != nil || resp != nil {
			return resp, err
		}
	}
	return nil, nil
}

// UsedBytes reports the total stored body size.
func (m *Memory) UsedBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

// live returns the registered cache for c's name, or nil if c was deleted
// and nothing replaced it. Callers hold parent.mu.
func (c *memoryCache) live() *memoryCache {
	if !c.detached {
		return c
	}
	return c.parent.caches[c.name]
}

// attach is live for writers: a deleted cache is registered again. Callers
// hold parent.mu for writing.
func (c *memoryCache) attach() *memoryCache {
	if live := c.live(); live != nil {
		return live
	}
	c.detached = false
	c.parent.caches[c.name] = c
	c.parent.names = append(c.parent.names, c.name)
	return c
}

func (c *memoryCache) Match(_ context.Context, req *fetch.Request, opts MatchOptions) (*fetch.Response, error) {
	c.parent.mu.RLock()
	defer c.parent.mu.RUnlock()
	c = c.live()
	if c == nil {
		return nil, nil
	}
	for _, e := range c.entries {
		if matches(e.req, e.resp, req, opts) {
			return e.resp.Clone(), nil
		}
	}
	return nil, nil
}

func (c *memoryCache) Put(_ context.Context, req *fetch.Request, resp *fetch.Response) error {
	if err := validatePut(req, resp); err != nil {
		return err
	}
	c.parent.mu.Lock()
	defer c.parent.mu.Unlock()
	c = c.attach()

	href := req.Href()
	var freed int64
	kept := c.entries[:0:0]
	for _, e := range c.entries {
		if e.req.Href() == href {
			freed += e.resp.Size()
			continue
		}
		kept = append(kept, e)
	}
	if max := c.parent.maxBytes; max > 0 && c.parent.used-freed+resp.Size() > max {
		return ErrQuotaExceeded
	}
	c.entries = append(kept, memoryEntry{req: storedRequest(req), resp: resp.Clone()})
	c.parent.used += resp.Size() - freed
	return nil
}

func (c *memoryCache) Delete(_ context.Context, req *fetch.Request, opts MatchOptions) (bool, error) {
	c.parent.mu.Lock()
	defer c.parent.mu.Unlock()
	c = c.live()
	if c == nil {
		return false, nil
	}
	found := false
	kept := c.entries[:0:0]
	for _, e := range c.entries {
		if matches(e.req, e.resp, req, opts) {
			c.parent.used -= e.resp.Size()
			found = true
			continue
		}
		kept = append(kept, e)
	}
	c.entries = kept
	return found, nil
}

func (c *memoryCache) Keys(context.Context) ([]*fetch.Request, error) {
	c.parent.mu.RLock()
	defer c.parent.mu.RUnlock()
	c = c.live()
	if c == nil {
		return []*fetch.Request{}, nil
	}
	keys := make([]*fetch.Request, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.req.Clone())
	}
	return keys, nil
}
