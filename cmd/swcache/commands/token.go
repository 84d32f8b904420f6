package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yshengliao/swcache/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a control API token",
		Long: `Token signs a bearer token with control.jwt_secret. Without --scope the
token grants every scope (lifecycle, messages, read).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Control.JWTSecret == "" {
				return fmt.Errorf("control.jwt_secret is not configured")
			}
			for _, s := range scopes {
				if !validScope(s) {
					return fmt.Errorf("unknown scope %q", s)
				}
			}
			if ttl <= 0 {
				ttl = cfg.Control.TokenTTL
			}

			svc := auth.NewJWTService(cfg.Control.JWTSecret, ttl, cfg.Control.Issuer)
			token, err := svc.GenerateToken(subject, scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&subject, "subject", "s", "", "who the token is issued to")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "granted scopes (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: control.token_ttl)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func validScope(s string) bool {
	for _, known := range auth.AllScopes {
		if s == known {
			return true
		}
	}
	return false
}
