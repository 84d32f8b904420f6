package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yshengliao/swcache/config"
	"github.com/yshengliao/swcache/pkg/logger"
	"github.com/yshengliao/swcache/worker"
)

// Execute runs the CLI
func Execute(version string) error {
	return NewRootCmd(version).Execute()
}

// rootOptions are the flags every command shares
type rootOptions struct {
	configPath string
	loader     string
}

// load reads the configuration. The bofry loader also reads
// --section-field=value arguments from the command line.
func (o *rootOptions) load() (*config.Config, error) {
	switch o.loader {
	case "", "simple":
		return config.Load(o.configPath)
	case "bofry":
		cfg := &config.Config{}
		loader := config.NewBofryLoader().WithYAMLFile(o.configPath).WithCommandArguments(os.Args[1:])
		if err := loader.Load(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	default:
		return nil, fmt.Errorf("unknown config loader %q", o.loader)
	}
}

// NewRootCmd builds the command tree
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "swcache",
		Short: "swcache - offline caching runtime",
		Long: `swcache runs service-worker style caching in front of an origin:
precaching of a versioned manifest, runtime caching strategies per route
and offline fallbacks, with a control API to drive its lifecycle.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "swcache.yaml", "config file path")
	root.PersistentFlags().StringVar(&opts.loader, "loader", "simple", "config loader: simple or bofry")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newInstallCmd(opts))
	root.AddCommand(newActivateCmd(opts))
	root.AddCommand(newManifestCmd(opts))
	root.AddCommand(newTokenCmd(opts))
	for _, c := range root.Commands() {
		// Section overrides are read by the bofry loader.
		c.FParseErrWhitelist.UnknownFlags = true
	}
	return root
}

// withWorker loads the configuration, builds a worker and closes it after fn.
func withWorker(ctx context.Context, opts *rootOptions, fn func(w *worker.Worker, log *zap.Logger) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	w, err := worker.New(cfg, worker.WithLogger(log))
	if err != nil {
		return err
	}
	runErr := fn(w, log)
	if err := w.Close(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newInstallCmd(opts *rootOptions) *cobra.Command {
	var activate bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Download the precache manifest into the cache storage",
		Long: `Install runs the install event once: every manifest entry missing from
the cache storage is downloaded and the offline fallbacks are cached. Use
it with the sqlite driver to warm a cache before serving.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withWorker(cmd.Context(), opts, func(w *worker.Worker, _ *zap.Logger) error {
				res, err := w.Install(cmd.Context())
				if err != nil {
					return err
				}
				out := map[string]any{"install": res}
				if activate {
					act, err := w.Activate(cmd.Context())
					if err != nil {
						return err
					}
					out["activate"] = act
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().BoolVar(&activate, "activate", false, "activate after installing")
	return cmd
}

func newActivateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Delete cached entries that are no longer in the manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withWorker(cmd.Context(), opts, func(w *worker.Worker, _ *zap.Logger) error {
				res, err := w.Activate(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"activate": res})
			})
		},
	}
}

