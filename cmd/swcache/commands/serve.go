package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yshengliao/swcache/config"
	"github.com/yshengliao/swcache/pkg/logger"
	"github.com/yshengliao/swcache/server"
	"github.com/yshengliao/swcache/worker"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var watch, skipInstall bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the caching runtime and its control API",
		Long: `Serve installs and activates the precache, then answers every request
through the runtime. With --watch the manifest is reloaded when it changes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if watch {
				cfg.Precache.Watch = true
			}
			log, err := logger.New(cfg.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, log, !skipInstall)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "reload the precache manifest when it changes")
	cmd.Flags().BoolVar(&skipInstall, "skip-install", false, "serve without running install and activate first")
	return cmd
}

// runServe blocks until ctx is done or the listener fails.
func runServe(ctx context.Context, cfg *config.Config, log *zap.Logger, install bool) error {
	w, err := worker.New(cfg, worker.WithLogger(log))
	if err != nil {
		return err
	}
	srv, err := server.New(cfg, w, server.WithLogger(log))
	if err != nil {
		_ = w.Close(ctx)
		return err
	}
	srv.OnShutdown(w.Close)

	if install {
		if _, err := w.Install(ctx); err != nil {
			// Without a complete install the previous cache stays in use.
			log.Error("install failed", zap.Error(err))
		} else if _, err := w.Activate(ctx); err != nil {
			log.Error("activate failed", zap.Error(err))
		}
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	if cfg.Precache.Watch && cfg.Precache.Manifest != "" {
		go func() {
			if err := w.WatchManifest(ctx); err != nil {
				log.Error("manifest watcher stopped", zap.Error(err))
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
