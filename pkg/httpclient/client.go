// Package httpclient provides the pooled HTTP client the runtime uses to
// reach the network.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Config defines HTTP client configuration
type Config struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	// Timeout bounds a whole request including reading the body
	Timeout time.Duration

	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	KeepAlive           time.Duration

	// UserAgent is set on requests that do not carry one
	UserAgent string

	// FollowRedirects disables redirect following when false
	FollowRedirects bool

	EnableMetrics bool
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		Timeout:             30 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		KeepAlive:           30 * time.Second,
		UserAgent:           "swcache",
		FollowRedirects:     true,
		EnableMetrics:       true,
	}
}

// Client is an HTTP client with connection pooling and metrics
type Client struct {
	*http.Client
	config  Config
	metrics *Metrics
}

// Metrics tracks HTTP client metrics
type Metrics struct {
	TotalRequests  int64
	TotalResponses int64
	TotalErrors    int64

	totalResponseTime int64
	statusCodes       sync.Map // map[int]*int64
}

// ClientMetrics is a snapshot of Metrics
type ClientMetrics struct {
	TotalRequests       int64         `json:"total_requests"`
	TotalResponses      int64         `json:"total_responses"`
	TotalErrors         int64         `json:"total_errors"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	StatusCodes         map[int]int64 `json:"status_codes"`
}

// New creates a new HTTP client with connection pooling
func New(config Config) *Client {
	dialer := &net.Dialer{
		Timeout:   config.DialTimeout,
		KeepAlive: config.KeepAlive,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	client := &Client{
		Client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		config:  config,
		metrics: &Metrics{},
	}
	if !config.FollowRedirects {
		client.Client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// NewDefault creates a new HTTP client with default configuration
func NewDefault() *Client {
	return New(DefaultConfig())
}

// Do performs an HTTP request with metrics tracking
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if !c.config.EnableMetrics {
		return c.Client.Do(req)
	}

	atomic.AddInt64(&c.metrics.TotalRequests, 1)
	start := time.Now()
	resp, err := c.Client.Do(req)
	if err != nil {
		atomic.AddInt64(&c.metrics.TotalErrors, 1)
		return nil, err
	}
	atomic.AddInt64(&c.metrics.TotalResponses, 1)
	atomic.AddInt64(&c.metrics.totalResponseTime, time.Since(start).Nanoseconds())
	c.trackStatusCode(resp.StatusCode)
	return resp, nil
}

// DoWithContext performs an HTTP request with context
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.Do(req.WithContext(ctx))
}

// GetMetrics returns current client metrics
func (c *Client) GetMetrics() ClientMetrics {
	if !c.config.EnableMetrics {
		return ClientMetrics{}
	}

	responses := atomic.LoadInt64(&c.metrics.TotalResponses)
	var avg time.Duration
	if responses > 0 {
		avg = time.Duration(atomic.LoadInt64(&c.metrics.totalResponseTime) / responses)
	}

	statusCodes := make(map[int]int64)
	c.metrics.statusCodes.Range(func(key, value any) bool {
		statusCodes[key.(int)] = atomic.LoadInt64(value.(*int64))
		return true
	})

	return ClientMetrics{
		TotalRequests:       atomic.LoadInt64(&c.metrics.TotalRequests),
		TotalResponses:      responses,
		TotalErrors:         atomic.LoadInt64(&c.metrics.TotalErrors),
		AverageResponseTime: avg,
		StatusCodes:         statusCodes,
	}
}

func (c *Client) trackStatusCode(code int) {
	val, _ := c.metrics.statusCodes.LoadOrStore(code, new(int64))
	atomic.AddInt64(val.(*int64), 1)
}

// Close closes idle connections
func (c *Client) Close() {
	c.Client.CloseIdleConnections()
}
