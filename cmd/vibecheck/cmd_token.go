package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
	"github.com/felixgeelhaar/vibecheck/internal/identity"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		role domain.Role = domain.RoleUser
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for the daemon API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Identity.JWTSecret == "" {
				return errors.New("no JWT secret configured (set VIBECHECK_IDENTITY_JWT_SECRET or secrets.yaml)")
			}
			v, err := identity.NewVerifier(cfg.Identity.JWTSecret)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = cfg.Identity.TokenTTL
			}

			token, err := v.Issue(domain.Principal{UserID: args[0], Role: role}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().Var(roleValue{&role}, "role", "user or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config)")
	return cmd
}
