package handlers

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"newsfeed/internal/auth"
	"newsfeed/internal/config"
)

// NewTokenCmd creates the token command for minting development tokens
func NewTokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for a local server",
		Long: `Mint a bearer token signed with auth.jwt_secret.

Intended for local development against a server sharing this configuration.

Example:
  export NEWSFEED_TOKEN=$(newsfeed token --user alice)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(userID, ttl)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id to put in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runToken(userID string, ttl time.Duration) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured. Set JWT_SECRET environment variable")
	}

	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
	)
	token, err := verifier.Sign(userID, ttl)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}

	fmt.Println(token)
	return nil
}
