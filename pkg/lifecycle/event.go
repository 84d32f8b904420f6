package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yshengliao/swcache/pkg/fetch"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventInstall  EventType = "install"
	EventActivate EventType = "activate"
	EventFetch    EventType = "fetch"
	EventMessage  EventType = "message"
)

// Event is an extendable event. Work registered with WaitUntil keeps the
// event alive until it settles.
type Event struct {
	Type EventType

	// Request is set for fetch events.
	Request *fetch.Request
	// PreloadResponse, when set on a fetch event for a navigation, is used
	// instead of a network request.
	PreloadResponse *Future[*fetch.Response]

	mu      sync.Mutex
	pending []Waiter
}

// NewEvent creates an event of the given type.
func NewEvent(t EventType) *Event {
	return &Event{Type: t}
}

// NewFetchEvent creates a fetch event for req.
func NewFetchEvent(req *fetch.Request) *Event {
	return &Event{Type: EventFetch, Request: req}
}

// WaitUntil extends the event's lifetime until w settles. Nil receivers
// and waiters are ignored so that code running outside an event can call
// it unconditionally.
func (e *Event) WaitUntil(w Waiter) {
	if e == nil || w == nil {
		return
	}
	e.mu.Lock()
	e.pending = append(e.pending, w)
	e.mu.Unlock()
}

// Wait drains the extensions in registration order, including ones added
// while draining, and returns their joined errors.
func (e *Event) Wait(ctx context.Context) error {
	if e == nil {
		return nil
	}
	var errs []error
	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.mu.Unlock()
			break
		}
		w := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()

		if err := w.Wait(ctx); err != nil {
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// Listener handles a dispatched event.
type Listener func(ctx context.Context, e *Event) error

// Dispatcher delivers events to listeners in registration order.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[EventType][]Listener
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[EventType][]Listener)}
}

// AddEventListener registers l for events of type t.
func (d *Dispatcher) AddEventListener(t EventType, l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[t] = append(d.listeners[t], l)
}

// Dispatch runs every listener for e.Type and then waits for the event's
// extensions. A listener error does not stop later listeners.
func (d *Dispatcher) Dispatch(ctx context.Context, e *Event) error {
	d.mu.RLock()
	listeners := append([]Listener(nil), d.listeners[e.Type]...)
	d.mu.RUnlock()

	var errs []error
	for _, l := range listeners {
		if err := l(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s listener: %w", e.Type, err))
		}
	}
	if err := e.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
