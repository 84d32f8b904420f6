package precache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yshengliao/swcache/pkg/cachenames"
	"github.com/yshengliao/swcache/pkg/lifecycle"
	"github.com/yshengliao/swcache/pkg/store"
	"github.com/yshengliao/swcache/strategy"
)

func TestDeleteOutdatedCaches(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(0)
	for _, name := range []string{
		"swcache-precache-v1-shop",
		"swcache-precache-v2-shop",
		"swcache-runtime-shop",
		"swcache-precache-v1-blog",
	} {
		_, err := s.Open(ctx, name)
		require.NoError(t, err)
	}

	deleted, err := DeleteOutdatedCaches(ctx, s, "swcache-precache-v2-shop", "shop")
	require.NoError(t, err)
	assert.Equal(t, []string{"swcache-precache-v1-shop"}, deleted)

	names, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"swcache-precache-v2-shop", "swcache-runtime-shop", "swcache-precache-v1-blog"}, names)
}

func TestCleanupOutdatedCaches_OnActivate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory(0)
	_, err := s.Open(ctx, "swcache-precache-v1-shop")
	require.NoError(t, err)

	c := NewController(strategy.Deps{Storage: s, Names: cachenames.New("shop")}, ControllerOptions{})
	assert.Equal(t, "swcache-precache-v2-shop", c.Strategy().CacheName())

	d := lifecycle.NewDispatcher()
	CleanupOutdatedCaches(d, c, "shop")
	require.NoError(t, d.Dispatch(ctx, lifecycle.NewEvent(lifecycle.EventActivate)))

	ok, err := s.Has(ctx, "swcache-precache-v1-shop")
	require.NoError(t, err)
	assert.False(t, ok)
}
