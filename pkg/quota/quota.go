// Package quota holds the callbacks run when cache storage reports that it
// is out of quota.
package quota

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Callback frees storage. It is called with the operation's context.
type Callback func(ctx context.Context) error

// Registry is an append-only list of callbacks, run in registration order.
type Registry struct {
	mu        sync.Mutex
	callbacks []Callback
	logger    *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// Register adds cb.
func (r *Registry) Register(cb Callback) {
	r.mu.Lock()
	r.callbacks = append(r.callbacks, cb)
	r.mu.Unlock()
}

// Len returns the number of registered callbacks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.callbacks)
}

// Run calls every callback sequentially. A failing callback does not stop
// the ones after it.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.Lock()
	callbacks := append([]Callback(nil), r.callbacks...)
	r.mu.Unlock()

	r.logger.Warn("storage quota exceeded, running callbacks", zap.Int("callbacks", len(callbacks)))
	var errs []error
	for _, cb := range callbacks {
		if err := cb(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
