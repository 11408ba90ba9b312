package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"claim-enricher/internal/app"
	"claim-enricher/internal/enrichment"
	"claim-enricher/internal/handlers"
)

// ErrNoValue is returned by enrich when the pipeline produced no value
var ErrNoValue = errors.New("no value")

func newEnrichCommand(opts *options) *cobra.Command {
	var (
		fetchURL    string
		jsonPath    string
		subject     string
		authMode    string
		accessToken string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Run one enrichment and print the extracted value",
		Long: `Enrich calls the backend for one subject, applies the JSONPath
expression to the response and prints the result.

The shared secret is read from INTERNAL_COMMUNICATION_API_KEY (or api_key in
the config file). In bearer mode the access token is forwarded instead.

Example:
  claim-enricher enrich --url https://backend/api/user-info --path '$.school.id' --subject 6a1f
  claim-enricher enrich --url https://backend/api/me --path '$.roles[*].name' --auth-mode bearer --access-token "$TOKEN"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := enrichment.ParseAuthMode(authMode)
			if err != nil {
				return err
			}

			cfg := opts.config()
			logger, err := opts.logger(cmd, cfg)
			if err != nil {
				return err
			}

			fetcher, err := enrichment.NewFetcher(enrichment.FetcherConfig{
				Credential:       app.CredentialSource(cfg),
				Timeout:          cfg.FetchTimeout,
				MaxResponseBytes: cfg.FetchMaxResponseBytes,
			}, enrichment.WithFetcherLogger(logger))
			if err != nil {
				return err
			}

			pipeline := enrichment.NewPipeline(fetcher, enrichment.NewExtractor(), logger)
			outcome := pipeline.Run(cmd.Context(), enrichment.Request{
				FetchURL:    fetchURL,
				JSONPath:    jsonPath,
				SubjectID:   subject,
				AuthMode:    mode,
				AccessToken: accessToken,
			})

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(handlers.NewEnrichResponse(outcome))
			}

			if !outcome.Value.Present {
				if outcome.Err != nil {
					return fmt.Errorf("%w: %s failed: %v", ErrNoValue, outcome.Stage, outcome.Err)
				}
				return fmt.Errorf("%w: the path matched null", ErrNoValue)
			}

			fmt.Fprintln(cmd.OutOrStdout(), outcome.Value.Text)
			return nil
		},
	}

	cmd.Flags().StringVar(&fetchURL, "url", "", "backend URL to fetch")
	cmd.Flags().StringVar(&jsonPath, "path", "", "JSONPath expression to extract")
	cmd.Flags().StringVar(&subject, "subject", "", "subject id sent as {\"sub\": ...}")
	cmd.Flags().StringVar(&authMode, "auth-mode", "api_key", "api_key or bearer")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "user access token forwarded in bearer mode")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full outcome as JSON")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("path")

	return cmd
}
