package commands

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/yshengliao/swcache/pkg/store"
	"github.com/yshengliao/swcache/precache"
	"github.com/yshengliao/swcache/strategy"
)

func newManifestCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Work with precache manifests",
	}
	cmd.AddCommand(newManifestCheckCmd(opts))
	return cmd
}

// ManifestReport summarises a checked manifest
type ManifestReport struct {
	Entries      int               `json:"entries"`
	Unrevisioned []string          `json:"unrevisioned,omitempty"`
	CacheKeys    map[string]string `json:"cacheKeys"`
}

func newManifestCheckCmd(opts *rootOptions) *cobra.Command {
	var origin string

	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a manifest and print its cache keys",
		Long: `Check parses the manifest and adds it to an empty precache list, which
rejects entries that share a URL with different revisions or a cache key
with different integrities.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if origin == "" {
				if cfg, err := opts.load(); err == nil {
					origin = cfg.Worker.Origin
				}
			}
			report, err := checkManifest(args[0], origin)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "origin relative URLs resolve against (default: worker.origin)")
	return cmd
}

func checkManifest(path, origin string) (*ManifestReport, error) {
	entries, err := precache.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	if origin == "" {
		origin = "http://localhost"
	}
	base, err := url.Parse(origin)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("origin %q must be an absolute URL", origin)
	}

	c := precache.NewController(strategy.Deps{Storage: store.NewMemory(0)}, precache.ControllerOptions{Origin: base})
	if err := c.AddToCacheList(entries); err != nil {
		return nil, err
	}

	report := &ManifestReport{Entries: len(entries), CacheKeys: c.GetURLsToCacheKeys()}
	for _, e := range entries {
		if e.Unrevisioned() {
			report.Unrevisioned = append(report.Unrevisioned, e.URL)
		}
	}
	return report, nil
}
