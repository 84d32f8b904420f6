package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yshengliao/swcache/pkg/circuitbreaker"
)

func TestWithCircuitBreaker(t *testing.T) {
	offline := errors.New("connection refused")
	calls := map[string]int{}
	inner := FetcherFunc(func(ctx context.Context, req *Request, _ *Options) (*Response, error) {
		calls[req.Origin()]++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if req.Origin() == "https://down.example" {
			return nil, offline
		}
		return &Response{Status: http.StatusInternalServerError, URL: req.Href()}, nil
	})

	breakers := circuitbreaker.NewSet(circuitbreaker.Config{FailureThreshold: 2, OpenTimeout: time.Hour})
	f := WithCircuitBreaker(inner, breakers)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.Fetch(ctx, MustRequest("https://down.example/a.js"), nil)
		assert.ErrorIs(t, err, offline)
	}
	_, err := f.Fetch(ctx, MustRequest("https://down.example/a.js"), nil)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, calls["https://down.example"])

	// error statuses are responses and keep the circuit closed
	for i := 0; i < 3; i++ {
		resp, err := f.Fetch(ctx, MustRequest("https://up.example/"), nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.Status)
	}

	// cancelled requests are not counted
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	breakers2 := circuitbreaker.NewSet(circuitbreaker.Config{FailureThreshold: 1, OpenTimeout: time.Hour})
	g := WithCircuitBreaker(inner, breakers2)
	_, err = g.Fetch(cancelled, MustRequest("https://up.example/"), nil)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, map[string]circuitbreaker.State{
		"https://down.example": circuitbreaker.StateOpen,
		"https://up.example":   circuitbreaker.StateClosed,
	}, breakers.States())
	assert.Equal(t, circuitbreaker.StateClosed, breakers2.Get("https://up.example").State())
}
