package worker

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
	"github.com/yshengliao/swcache/pkg/fetch"
	"github.com/yshengliao/swcache/pkg/lifecycle"
)

// ServeHTTP handles r as a fetch event.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	req, err := fetch.FromHTTP(r, w.origin)
	if err != nil {
		writeError(rw, swerrors.New(swerrors.CodeInvalidInput, map[string]any{"error": err}), http.StatusBadRequest)
		return
	}
	resp, err := w.Fetch(r.Context(), req)
	if err != nil {
		w.logger.Debug("fetch event failed", zap.String("url", req.Href()), zap.Error(err))
		writeError(rw, err, http.StatusBadGateway)
		return
	}
	if err := resp.WriteTo(rw); err != nil {
		w.logger.Debug("write response", zap.String("url", req.Href()), zap.Error(err))
	}
}

// Fetch runs a fetch event for req. Requests the router declines go to
// the network unchanged. Work the handlers leave running keeps going after
// Fetch returns; Close waits for it.
func (w *Worker) Fetch(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	ev := lifecycle.NewFetchEvent(req)
	if w.cfg.Worker.NavigationPreload && req.IsNavigation() {
		preload := req.Clone()
		ev.PreloadResponse = lifecycle.Async(context.WithoutCancel(ctx), func(ctx context.Context) (*fetch.Response, error) {
			return w.fetcher.Fetch(ctx, preload, nil)
		})
		ev.WaitUntil(lifecycle.Settled(ev.PreloadResponse))
	}
	defer w.settle(ctx, ev)

	resp, handled, err := w.router.HandleRequest(ctx, req, ev)
	if !handled {
		w.metrics.RecordPassthrough()
		return w.passthrough(ctx, req, ev)
	}
	if err != nil {
		w.metrics.RecordHandlerError()
		return nil, err
	}
	return resp, nil
}

func (w *Worker) passthrough(ctx context.Context, req *fetch.Request, ev *lifecycle.Event) (*fetch.Response, error) {
	var (
		resp *fetch.Response
		err  error
	)
	if ev.PreloadResponse != nil {
		resp, err = ev.PreloadResponse.Await(ctx)
	} else {
		resp, err = w.fetcher.Fetch(ctx, req, nil)
	}
	if err != nil {
		return nil, swerrors.New(swerrors.CodeNoResponse, map[string]any{"url": req.Href(), "error": err})
	}
	return resp, nil
}

// settle waits for the event's extensions in the background.
func (w *Worker) settle(ctx context.Context, ev *lifecycle.Event) {
	w.background.Add(1)
	go func() {
		defer w.background.Done()
		if err := ev.Wait(context.WithoutCancel(ctx)); err != nil {
			w.logger.Debug("fetch event background work failed", zap.String("url", ev.Request.Href()), zap.Error(err))
		}
	}()
}

// writeError writes the JSON error body with the runtime error code.
func writeError(rw http.ResponseWriter, err error, status int) {
	body := swerrors.ResponseFrom(err)
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.Header().Set("X-Swcache-Error", string(body.ErrorDetail.Code))
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(body)
}
