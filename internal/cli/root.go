// Package cli implements the claim-enricher command line
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"claim-enricher/internal/app"
	"claim-enricher/internal/common/logging"
	"claim-enricher/internal/config"
)

// options is the state shared by every subcommand of one root command
type options struct {
	cfgFile string
	verbose bool
	v       *viper.Viper
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	return newRootCommand(&options{v: viper.New()})
}

func newRootCommand(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "claim-enricher",
		Short: "Enrich OIDC claims and SAML attributes with data from a backend API",
		Long: `claim-enricher fetches a document about the user from a backend API,
extracts one value with a JSONPath expression and embeds it into identity
tokens. A failed enrichment never fails token issuance: the claim is
simply left out.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (ENRICHER_*, then the plain service variables such as PORT)
3. Config file (~/.claim-enricher/config.yaml)
4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.initConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default: $HOME/.claim-enricher/config.yaml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("mappers-file", "", "YAML file with mapper definitions")
	flags.Duration("fetch-timeout", 0, "bound on a single backend call")

	_ = opts.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = opts.v.BindPFlag("mappers_file", flags.Lookup("mappers-file"))
	_ = opts.v.BindPFlag("fetch_timeout", flags.Lookup("fetch-timeout"))

	root.AddCommand(
		newServeCommand(opts),
		newEnrichCommand(opts),
		newMappersCommand(opts),
		newTokenCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command until it finishes or the process is interrupted
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// initConfig reads .env, the config file and ENRICHER_* variables
func (o *options) initConfig() error {
	_ = godotenv.Load()

	if o.cfgFile != "" {
		o.v.SetConfigFile(o.cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			o.v.AddConfigPath(filepath.Join(home, ".claim-enricher"))
		}
		o.v.SetConfigType("yaml")
		o.v.SetConfigName("config")
	}

	o.v.SetEnvPrefix("ENRICHER")
	o.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	o.v.AutomaticEnv()

	if err := o.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	} else if o.verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", o.v.ConfigFileUsed())
	}
	return nil
}

// config loads the service configuration and applies viper overrides on top
func (o *options) config() *config.Config {
	cfg := config.Load()

	if o.v.IsSet("port") {
		cfg.Port = o.v.GetString("port")
	}
	if o.v.IsSet("log_level") {
		cfg.LogLevel = o.v.GetString("log_level")
	}
	if o.v.IsSet("log_file") {
		cfg.LogFile = o.v.GetString("log_file")
	}
	if o.v.IsSet("mappers_file") {
		cfg.MappersFile = o.v.GetString("mappers_file")
	}
	if o.v.IsSet("fetch_timeout") {
		cfg.FetchTimeout = o.v.GetDuration("fetch_timeout")
	}
	if o.v.IsSet("api_key") {
		cfg.InternalAPIKey = o.v.GetString("api_key")
	}
	if o.v.IsSet("api_jwt_secret") {
		cfg.APIJWTSecret = o.v.GetString("api_jwt_secret")
	}
	if o.verbose {
		cfg.LogLevel = "debug"
	}

	return cfg
}

// logger builds a logger on stderr so command output stays clean on stdout
func (o *options) logger(cmd *cobra.Command, cfg *config.Config) (logging.Logger, error) {
	logger, err := logging.NewZapLogger(logging.LogConfig{
		Level:      logging.ParseLevel(cfg.LogLevel),
		Output:     cmd.ErrOrStderr(),
		TimeFormat: time.RFC3339,
		Prefix:     "claim-enricher",
	})
	if err != nil {
		return nil, err
	}
	logging.SetGlobalLogger(logger)
	return logger, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "claim-enricher %s\n", app.Version)
		},
	}
}

func newServeCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve starts the HTTP API: /api/v1/enrich for one-off enrichments and
the mapper endpoints for identity providers that call the service while
issuing tokens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(opts.config())
		},
	}

	cmd.Flags().String("port", "", "HTTP port (default: 8080)")
	_ = opts.v.BindPFlag("port", cmd.Flags().Lookup("port"))
	return cmd
}
