package cli

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	apperrors "claim-enricher/internal/common/errors"
	"claim-enricher/internal/middleware"
)

func newTokenCommand(opts *options) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		Long: `Token signs an HS256 token with API_JWT_SECRET that the /api routes
accept. Give one to every identity provider that calls the service.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config()
			if cfg.APIJWTSecret == "" {
				return apperrors.ConfigError("API_JWT_SECRET is not set")
			}
			if ttl <= 0 {
				return apperrors.ValidationError("--ttl must be positive")
			}

			now := time.Now()
			token, err := middleware.IssueToken(cfg.APIJWTSecret, subject, jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			})
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "identity-provider", "caller name recorded in request logs")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
