// Package observability collects runtime and HTTP metrics and runs health
// checks for the control API.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// HTTPStats holds aggregated HTTP statistics
type HTTPStats struct {
	TotalRequests    int64            `json:"total_requests"`
	RequestsByStatus map[int]int64    `json:"requests_by_status"`
	RequestsByMethod map[string]int64 `json:"requests_by_method"`
	AverageLatency   time.Duration    `json:"average_latency"`
	LastUpdated      time.Time        `json:"last_updated"`
}

// WebSocketStats holds message channel statistics
type WebSocketStats struct {
	ActiveConnections int64            `json:"active_connections"`
	TotalMessages     int64            `json:"total_messages"`
	MessagesByType    map[string]int64 `json:"messages_by_type"`
	LastUpdated       time.Time        `json:"last_updated"`
}

// RuntimeStats counts what the caching runtime did with requests
type RuntimeStats struct {
	CacheHits       int64            `json:"cache_hits"`
	CacheMisses     int64            `json:"cache_misses"`
	CacheWrites     int64            `json:"cache_writes"`
	NetworkFetches  int64            `json:"network_fetches"`
	NetworkFailures int64            `json:"network_failures"`
	Passthrough     int64            `json:"passthrough"`
	HandlerErrors   int64            `json:"handler_errors"`
	Lifecycle       map[string]int64 `json:"lifecycle"`
}

// Stats is a snapshot of everything collected
type Stats struct {
	HTTP      HTTPStats      `json:"http"`
	WebSocket WebSocketStats `json:"websocket"`
	Runtime   RuntimeStats   `json:"runtime"`
	Timestamp int64          `json:"timestamp"`
}

// Collector is a lightweight metrics collector that keeps aggregates
// only, so memory does not grow with traffic.
type Collector struct {
	httpRequestCount     int64
	websocketConnections int64

	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	cacheWrites     atomic.Int64
	networkFetches  atomic.Int64
	networkFailures atomic.Int64
	passthrough     atomic.Int64
	handlerErrors   atomic.Int64

	mu             sync.RWMutex
	httpStats      HTTPStats
	websocketStats WebSocketStats
	lifecycle      map[string]int64
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	c := &Collector{}
	c.reset()
	return c
}

// RecordHTTPRequest records a served HTTP request
func (c *Collector) RecordHTTPRequest(method string, statusCode int, duration time.Duration) {
	atomic.AddInt64(&c.httpRequestCount, 1)

	c.mu.Lock()
	c.httpStats.TotalRequests = atomic.LoadInt64(&c.httpRequestCount)
	c.httpStats.RequestsByStatus[statusCode]++
	c.httpStats.RequestsByMethod[method]++

	// Rolling average over roughly the last 100 requests
	if c.httpStats.AverageLatency == 0 {
		c.httpStats.AverageLatency = duration
	} else {
		c.httpStats.AverageLatency = (c.httpStats.AverageLatency*99 + duration) / 100
	}
	c.httpStats.LastUpdated = time.Now()
	c.mu.Unlock()
}

// RecordWebSocketConnection tracks open message channels
func (c *Collector) RecordWebSocketConnection(connected bool) {
	if connected {
		atomic.AddInt64(&c.websocketConnections, 1)
	} else {
		atomic.AddInt64(&c.websocketConnections, -1)
	}

	c.mu.Lock()
	c.websocketStats.ActiveConnections = atomic.LoadInt64(&c.websocketConnections)
	c.websocketStats.LastUpdated = time.Now()
	c.mu.Unlock()
}

// RecordWebSocketMessage counts a message by direction and type
func (c *Collector) RecordWebSocketMessage(direction, messageType string) {
	c.mu.Lock()
	c.websocketStats.TotalMessages++
	c.websocketStats.MessagesByType[direction+"_"+messageType]++
	c.websocketStats.LastUpdated = time.Now()
	c.mu.Unlock()
}

// RecordCacheLookup counts a cache hit or miss
func (c *Collector) RecordCacheLookup(hit bool) {
	if hit {
		c.cacheHits.Add(1)
	} else {
		c.cacheMisses.Add(1)
	}
}

// RecordCacheWrite counts a successful cache write
func (c *Collector) RecordCacheWrite() { c.cacheWrites.Add(1) }

// RecordNetwork counts a network fetch and whether it failed
func (c *Collector) RecordNetwork(ok bool) {
	c.networkFetches.Add(1)
	if !ok {
		c.networkFailures.Add(1)
	}
}

// RecordPassthrough counts a request the router declined
func (c *Collector) RecordPassthrough() { c.passthrough.Add(1) }

// RecordHandlerError counts a request that ended in an error
func (c *Collector) RecordHandlerError() { c.handlerErrors.Add(1) }

// RecordLifecycle counts a dispatched lifecycle event
func (c *Collector) RecordLifecycle(event string) {
	c.mu.Lock()
	c.lifecycle[event]++
	c.mu.Unlock()
}

// Runtime returns the runtime counters
func (c *Collector) Runtime() RuntimeStats {
	c.mu.RLock()
	lifecycle := make(map[string]int64, len(c.lifecycle))
	for k, v := range c.lifecycle {
		lifecycle[k] = v
	}
	c.mu.RUnlock()

	return RuntimeStats{
		CacheHits:       c.cacheHits.Load(),
		CacheMisses:     c.cacheMisses.Load(),
		CacheWrites:     c.cacheWrites.Load(),
		NetworkFetches:  c.networkFetches.Load(),
		NetworkFailures: c.networkFailures.Load(),
		Passthrough:     c.passthrough.Load(),
		HandlerErrors:   c.handlerErrors.Load(),
		Lifecycle:       lifecycle,
	}
}

// GetHTTPStats returns HTTP statistics
func (c *Collector) GetHTTPStats() HTTPStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.httpStats
	s.RequestsByStatus = make(map[int]int64, len(c.httpStats.RequestsByStatus))
	for k, v := range c.httpStats.RequestsByStatus {
		s.RequestsByStatus[k] = v
	}
	s.RequestsByMethod = make(map[string]int64, len(c.httpStats.RequestsByMethod))
	for k, v := range c.httpStats.RequestsByMethod {
		s.RequestsByMethod[k] = v
	}
	return s
}

// GetWebSocketStats returns message channel statistics
func (c *Collector) GetWebSocketStats() WebSocketStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.websocketStats
	s.MessagesByType = make(map[string]int64, len(c.websocketStats.MessagesByType))
	for k, v := range c.websocketStats.MessagesByType {
		s.MessagesByType[k] = v
	}
	return s
}

// Stats returns a snapshot of all statistics
func (c *Collector) Stats() Stats {
	return Stats{
		HTTP:      c.GetHTTPStats(),
		WebSocket: c.GetWebSocketStats(),
		Runtime:   c.Runtime(),
		Timestamp: time.Now().Unix(),
	}
}

// Reset clears all statistics (useful for testing)
func (c *Collector) Reset() {
	c.reset()
}

func (c *Collector) reset() {
	atomic.StoreInt64(&c.httpRequestCount, 0)
	atomic.StoreInt64(&c.websocketConnections, 0)
	c.cacheHits.Store(0)
	c.cacheMisses.Store(0)
	c.cacheWrites.Store(0)
	c.networkFetches.Store(0)
	c.networkFailures.Store(0)
	c.passthrough.Store(0)
	c.handlerErrors.Store(0)

	c.mu.Lock()
	c.httpStats = HTTPStats{
		RequestsByStatus: make(map[int]int64),
		RequestsByMethod: make(map[string]int64),
	}
	c.websocketStats = WebSocketStats{
		MessagesByType: make(map[string]int64),
	}
	c.lifecycle = make(map[string]int64)
	c.mu.Unlock()
}
