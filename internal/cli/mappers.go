package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	apperrors "claim-enricher/internal/common/errors"
	"claim-enricher/internal/mappers"
)

func newMappersCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappers",
		Short: "Inspect mapper definitions",
	}

	cmd.AddCommand(
		newMappersListCommand(opts),
		newMappersValidateCommand(),
		newMappersSchemaCommand(),
	)
	return cmd
}

func newMappersListCommand(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the mappers in the mappers file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.config()
			if cfg.MappersFile == "" {
				return apperrors.ConfigError("no mappers file configured, set --mappers-file or MAPPERS_FILE")
			}

			defs, err := mappers.LoadFile(cfg.MappersFile)
			if err != nil {
				return err
			}
			for i := range defs {
				defs[i].ApplyDefaults()
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(defs)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPROTOCOL\tKIND\tTARGET\tSOURCE")
			for _, def := range defs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", def.Name, def.Protocol, def.Kind, target(def), source(def))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print definitions as JSON")
	return cmd
}

func newMappersValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a mappers file without starting the service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := mappers.LoadFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d mappers OK\n", args[0], len(defs))
			return nil
		},
	}
}

func newMappersSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the mappers file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := mappers.DefinitionSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	}
}

func target(def mappers.Definition) string {
	if def.Protocol == mappers.ProtocolSAML {
		return def.AttributeName
	}
	return def.ClaimName
}

func source(def mappers.Definition) string {
	if def.Kind == mappers.KindStatic {
		return fmt.Sprintf("%q", def.StaticValue)
	}
	return def.FetchURL + " " + def.ExtractJSONPath
}
