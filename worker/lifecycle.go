package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/precache"
	"github.com/yshengliao/swcache/router"
)

// ReloadResult reports a manifest reload.
type ReloadResult struct {
	Install  *precache.InstallResult  `json:"install"`
	Activate *precache.ActivateResult `json:"activate"`
}

// Install dispatches an install event: the precache is downloaded and the
// offline fallbacks are cached.
func (w *Worker) Install(ctx context.Context) (*precache.InstallResult, error) {
	w.metrics.RecordLifecycle(string(lifecycle.EventInstall))
	w.resultsMu.Lock()
	w.lastInstall = nil
	w.resultsMu.Unlock()

	if err := w.dispatcher.Dispatch(ctx, lifecycle.NewEvent(lifecycle.EventInstall)); err != nil {
		return nil, err
	}
	w.resultsMu.Lock()
	defer w.resultsMu.Unlock()
	return w.lastInstall, nil
}

// Activate dispatches an activate event: entries no longer in the precache
// list are deleted, as are outdated precache caches.
func (w *Worker) Activate(ctx context.Context) (*precache.ActivateResult, error) {
	w.metrics.RecordLifecycle(string(lifecycle.EventActivate))
	w.resultsMu.Lock()
	w.lastActivate = nil
	w.resultsMu.Unlock()

	if err := w.dispatcher.Dispatch(ctx, lifecycle.NewEvent(lifecycle.EventActivate)); err != nil {
		return nil, err
	}
	w.resultsMu.Lock()
	defer w.resultsMu.Unlock()
	return w.lastActivate, nil
}

// PostMessage delivers msg as a message event. reply is called with true
// once every URL of a CACHE_URLS message is cached.
func (w *Worker) PostMessage(ctx context.Context, msg router.Message, reply func(bool)) (bool, error) {
	w.metrics.RecordLifecycle(string(lifecycle.EventMessage))
	ev := lifecycle.NewEvent(lifecycle.EventMessage)
	handled, err := w.router.HandleMessage(ctx, msg, ev, reply)
	if err != nil {
		return handled, err
	}
	// Cache writes extend the event past the reply.
	return handled, ev.Wait(ctx)
}

// Reload reads the manifest again and replaces the precache with a new
// version: the new list is installed, becomes current, and is activated
// so entries missing from it are deleted.
func (w *Worker) Reload(ctx context.Context) (*ReloadResult, error) {
	path := w.cfg.Precache.Manifest
	if path == "" {
		return nil, fmt.Errorf("no precache manifest configured")
	}
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	entries, err := precache.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	c, err := w.newController(entries)
	if err != nil {
		return nil, err
	}

	installEv := lifecycle.NewEvent(lifecycle.EventInstall)
	installed, err := c.Install(ctx, installEv)
	if err == nil {
		err = installEv.Wait(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("install new precache version: %w", err)
	}

	w.swap(c)

	activated, err := c.Activate(ctx, lifecycle.NewEvent(lifecycle.EventActivate))
	if err != nil {
		return nil, fmt.Errorf("activate new precache version: %w", err)
	}

	w.resultsMu.Lock()
	w.lastInstall, w.lastActivate = installed, activated
	w.resultsMu.Unlock()

	w.logger.Info("precache manifest reloaded",
		zap.Int("entries", len(entries)),
		zap.Int("updated", len(installed.UpdatedURLs)),
		zap.Int("deleted", len(activated.DeletedURLs)))
	return &ReloadResult{Install: installed, Activate: activated}, nil
}
