package precache

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/pkg/store"
)

const precacheMarker = "-precache-"

// DeleteOutdatedCaches deletes precache caches of the same scope other
// than current, such as the caches of older naming versions.
func DeleteOutdatedCaches(ctx context.Context, s store.Storage, current, scope string) ([]string, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	deleted := []string{}
	for _, name := range names {
		if name == current || !strings.Contains(name, precacheMarker) || !strings.Contains(name, scope) {
			continue
		}
		if _, err := s.Delete(ctx, name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}

// CleanupOutdatedCaches runs DeleteOutdatedCaches for c's cache on every
// activate event dispatched by d.
func CleanupOutdatedCaches(d *lifecycle.Dispatcher, c *Controller, scope string) {
	d.AddEventListener(lifecycle.EventActivate, func(ctx context.Context, e *lifecycle.Event) error {
		deleted, err := DeleteOutdatedCaches(ctx, c.storage, c.strategy.CacheName(), scope)
		if err != nil {
			return err
		}
		if len(deleted) > 0 {
			c.logger.Info("deleted outdated precache caches", zap.Strings("caches", deleted))
		}
		return nil
	})
}
