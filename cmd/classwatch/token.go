package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"classwatch/internal/auth"
	"classwatch/pkg/types"
)

// tokenCommand mints a bearer token with the configured secret. Production
// deployments get tokens from the identity service; this is for local use.
func tokenCommand() *cobra.Command {
	var (
		owner    string
		role     string
		approved bool
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return errors.New("--owner is required")
			}
			provider, err := auth.NewJWTProvider(configFrom(cmd).Auth)
			if err != nil {
				return err
			}
			token, err := provider.Issue(types.Identity{OwnerID: owner, Role: role, IsApproved: approved}, ttl)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id (token subject)")
	cmd.Flags().StringVar(&role, "role", string(types.RoleLecturer), "role claim")
	cmd.Flags().BoolVar(&approved, "approved", true, "approved claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	return cmd
}
