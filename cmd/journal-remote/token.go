package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/journal-sync/internal/auth"
)

const defaultTokenTTL = 30 * 24 * time.Hour

func newTokenCmd() *cobra.Command {
	var (
		user   string
		secret string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for a user",
		Long: `Mint an HS256 bearer token for --user, signed with --secret (or
` + envSecret + `). A --ttl of 0 mints a token that never expires.

Configure the client with:
  journal-sync config set remote token "$(journal-remote token --user alice)"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := secretFrom(secret)
			if err != nil {
				return err
			}

			token, err := auth.Mint(user, key, ttl, time.Now())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)

			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "user ID to put in the token")
	cmd.Flags().StringVar(&secret, "secret", "", "token signing secret")
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")

	if err := cmd.MarkFlagRequired("user"); err != nil {
		panic(err)
	}

	return cmd
}
