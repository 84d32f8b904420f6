package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
)

// MessageCacheURLs asks the router to fetch and cache a list of URLs
// through their routes.
const MessageCacheURLs = "CACHE_URLS"

// Message is a message event payload.
type Message struct {
	Type    string         `json:"type"`
	Payload MessagePayload `json:"payload"`
}

// MessagePayload carries the URLs of a CACHE_URLS message.
type MessagePayload struct {
	URLsToCache []CacheURL `json:"urlsToCache"`
}

// RequestInit overrides request defaults for one CACHE_URLS entry.
type RequestInit struct {
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Mode        string            `json:"mode,omitempty"`
	Credentials string            `json:"credentials,omitempty"`
	Cache       string            `json:"cache,omitempty"`
	Integrity   string            `json:"integrity,omitempty"`
}

// CacheURL is either a bare URL or a [url, init] pair.
type CacheURL struct {
	URL  string
	Init *RequestInit
}

// UnmarshalJSON accepts "url" and ["url", {init}].
func (c *CacheURL) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = CacheURL{URL: s}
		return nil
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("cache url entry must be a string or [url, init]: %w", err)
	}
	if len(pair) == 0 || len(pair) > 2 {
		return fmt.Errorf("cache url entry has %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &c.URL); err != nil {
		return fmt.Errorf("cache url entry url: %w", err)
	}
	if len(pair) == 2 {
		c.Init = new(RequestInit)
		if err := json.Unmarshal(pair[1], c.Init); err != nil {
			return fmt.Errorf("cache url entry init: %w", err)
		}
	}
	return nil
}

// MarshalJSON writes the short form when there is no init.
func (c CacheURL) MarshalJSON() ([]byte, error) {
	if c.Init == nil {
		return json.Marshal(c.URL)
	}
	return json.Marshal([]any{c.URL, c.Init})
}

func (r *Router) requestFor(c CacheURL) (*fetch.Request, error) {
	u, err := r.resolve(c.URL)
	if err != nil {
		return nil, err
	}
	req := fetch.NewRequestURL(u)
	if in := c.Init; in != nil {
		if in.Method != "" {
			req.Method = in.Method
		}
		for k, v := range in.Headers {
			req.Header.Set(k, v)
		}
		if in.Mode != "" {
			req.Mode = in.Mode
		}
		if in.Credentials != "" {
			req.Credentials = in.Credentials
		}
		if in.Cache != "" {
			req.Cache = in.Cache
		}
		req.Integrity = in.Integrity
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	return req, nil
}

// HandleMessage handles a message event. Only CACHE_URLS is understood;
// other messages return handled false. Every URL is routed concurrently,
// the combined work extends ev, and reply, when non-nil, receives true
// once all of them succeed.
func (r *Router) HandleMessage(ctx context.Context, msg Message, ev *lifecycle.Event, reply func(bool)) (bool, error) {
	if msg.Type != MessageCacheURLs {
		return false, nil
	}
	if ev == nil {
		ev = lifecycle.NewEvent(lifecycle.EventMessage)
	}

	reqs := make([]*fetch.Request, 0, len(msg.Payload.URLsToCache))
	for _, entry := range msg.Payload.URLsToCache {
		req, err := r.requestFor(entry)
		if err != nil {
			return true, err
		}
		reqs = append(reqs, req)
	}

	all := lifecycle.Async(context.WithoutCancel(ctx), func(ctx context.Context) (struct{}, error) {
		// A failing URL does not cancel the others.
		var g errgroup.Group
		for _, req := range reqs {
			req := req
			g.Go(func() error {
				_, _, err := r.HandleRequest(ctx, req, ev)
				return err
			})
		}
		return struct{}{}, g.Wait()
	})
	ev.WaitUntil(all)

	if err := all.Wait(ctx); err != nil {
		r.logger.Warn("caching message urls failed", zap.Int("urls", len(reqs)), zap.Error(err))
		return true, err
	}
	r.logger.Debug("cached message urls", zap.Int("urls", len(reqs)))
	if reply != nil {
		reply(true)
	}
	return true, nil
}
