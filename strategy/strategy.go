// Package strategy implements caching strategies and the per-request
// Handler they are built on.
package strategy

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/yshengliao/swcache/pkg/cachenames"
	swerrors "github.com/yshengliao/swcache/pkg/errors"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/pkg/quota"
	"github.com/yshengliao/swcache/pkg/store"
)

// Deps are the collaborators a strategy reaches through its Handler.
type Deps struct {
	Storage store.Storage
	Fetcher fetch.Fetcher
	Quota   *quota.Registry
	Names   *cachenames.Names
	Logger  *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Quota == nil {
		d.Quota = quota.NewRegistry(d.Logger)
	}
	if d.Names == nil {
		d.Names = cachenames.New("")
	}
	return d
}

// Options configure a strategy.
type Options struct {
	// CacheName defaults to the runtime cache name.
	CacheName    string
	Plugins      []*Plugin
	FetchOptions *fetch.Options
	MatchOptions store.MatchOptions
}

// HandleOptions describe one request for a strategy.
type HandleOptions struct {
	Request *fetch.Request
	Event   *lifecycle.Event
	URL     *url.URL
	Params  any
	// Plugins are appended to the strategy's plugins for this call only.
	Plugins []*Plugin
}

// RespondFunc produces the response for a request using h.
type RespondFunc func(ctx context.Context, h *Handler, req *fetch.Request) (*fetch.Response, error)

// Base runs a RespondFunc inside the handler lifecycle. Concrete
// strategies embed it.
type Base struct {
	deps         Deps
	cacheName    string
	fetchOptions *fetch.Options
	matchOptions store.MatchOptions
	respond      RespondFunc

	mu      sync.RWMutex
	plugins []*Plugin
}

// NewBase creates a strategy around respond.
func NewBase(deps Deps, opts Options, respond RespondFunc) *Base {
	deps = deps.withDefaults()
	name := opts.CacheName
	if name == "" {
		name = deps.Names.Runtime()
	}
	return &Base{
		deps:         deps,
		cacheName:    name,
		fetchOptions: opts.FetchOptions,
		matchOptions: opts.MatchOptions,
		respond:      respond,
		plugins:      append([]*Plugin(nil), opts.Plugins...),
	}
}

// CacheName is the cache this strategy reads and writes.
func (b *Base) CacheName() string { return b.cacheName }

// Logger returns the strategy's logger.
func (b *Base) Logger() *zap.Logger { return b.deps.Logger }

// Deps returns the strategy's collaborators.
func (b *Base) Deps() Deps { return b.deps }

// Plugins returns a snapshot of the plugin list.
func (b *Base) Plugins() []*Plugin {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*Plugin(nil), b.plugins...)
}

// SetPlugins replaces the plugin list.
func (b *Base) SetPlugins(plugins []*Plugin) {
	b.mu.Lock()
	b.plugins = append([]*Plugin(nil), plugins...)
	b.mu.Unlock()
}

// AddPlugin appends p.
func (b *Base) AddPlugin(p *Plugin) {
	b.mu.Lock()
	b.plugins = append(b.plugins, p)
	b.mu.Unlock()
}

// Handle returns the response for opts.Request. Background work keeps
// running after Handle returns and extends opts.Event.
func (b *Base) Handle(ctx context.Context, opts HandleOptions) (*fetch.Response, error) {
	return b.HandleAll(ctx, opts).Response(ctx)
}

// Execution is a running HandleAll.
type Execution struct {
	response *lifecycle.Future[*fetch.Response]
	done     *lifecycle.Future[struct{}]
}

// Response waits for the response.
func (e *Execution) Response(ctx context.Context) (*fetch.Response, error) {
	return e.response.Await(ctx)
}

// Wait waits until the handler has finished, including background work
// registered with Handler.WaitUntil.
func (e *Execution) Wait(ctx context.Context) error {
	return e.done.Wait(ctx)
}

// HandleAll starts handling opts.Request and returns both the response
// and the completion of the handler.
func (b *Base) HandleAll(ctx context.Context, opts HandleOptions) *Execution {
	if opts.Request == nil {
		err := errors.New("strategy: handle called without a request")
		return &Execution{
			response: lifecycle.Resolved[*fetch.Response](nil, err),
			done:     lifecycle.Resolved(struct{}{}, err),
		}
	}
	h := newHandler(b, opts)
	req := opts.Request

	response := lifecycle.Async(ctx, func(ctx context.Context) (*fetch.Response, error) {
		return b.getResponse(ctx, h, req)
	})
	done := lifecycle.Async(context.WithoutCancel(ctx), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.awaitComplete(ctx, response, h, req)
	})
	return &Execution{response: response, done: done}
}

func (b *Base) getResponse(ctx context.Context, h *Handler, req *fetch.Request) (*fetch.Response, error) {
	for _, p := range h.withHook(HookHandlerWillStart) {
		if err := p.HandlerWillStart(ctx, HandlerParams{Request: req, Event: h.Event, State: h.state(p)}); err != nil {
			return nil, err
		}
	}

	resp, err := b.respond(ctx, h, req)
	if err == nil && resp.IsError() {
		err = swerrors.New(swerrors.CodeNoResponse, map[string]any{"url": req.Href()})
	}
	if err != nil {
		resp = nil
		for _, p := range h.withHook(HookHandlerDidError) {
			r, cbErr := p.HandlerDidError(ctx, HandlerParams{Request: req, Error: err, Event: h.Event, State: h.state(p)})
			if cbErr != nil {
				return nil, cbErr
			}
			if r != nil {
				resp = r
				break
			}
		}
		if resp == nil {
			return nil, err
		}
		b.deps.Logger.Debug("handlerDidError supplied a response",
			zap.String("url", req.Href()), zap.Error(err))
	}

	for _, p := range h.withHook(HookHandlerWillRespond) {
		resp, err = p.HandlerWillRespond(ctx, HandlerParams{Request: req, Response: resp, Event: h.Event, State: h.state(p)})
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (b *Base) awaitComplete(ctx context.Context, response *lifecycle.Future[*fetch.Response], h *Handler, req *fetch.Request) error {
	defer h.Destroy()

	// Response errors are reported through the response future.
	resp, _ := response.Await(ctx)

	var err error
	for _, p := range h.withHook(HookHandlerDidRespond) {
		if err = p.HandlerDidRespond(ctx, HandlerParams{Request: req, Response: resp, Event: h.Event, State: h.state(p)}); err != nil {
			break
		}
	}
	if err == nil {
		err = h.DoneWaiting(ctx)
	}

	for _, p := range h.withHook(HookHandlerDidComplete) {
		if cbErr := p.HandlerDidComplete(ctx, HandlerParams{Request: req, Response: resp, Error: err, Event: h.Event, State: h.state(p)}); cbErr != nil {
			return cbErr
		}
	}
	return err
}
