package cmd

import (
	"fmt"

	"tdrf/detect"

	"github.com/spf13/cobra"
)

func newRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate correlation rules",
	}

	rulesCmd.AddCommand(newRulesListCmd())
	rulesCmd.AddCommand(newRulesValidateCmd())
	rulesCmd.AddCommand(newRulesExportCmd())

	return rulesCmd
}

// activeRules returns the rules from file, the configured rules file, or the
// built-in set, in that order of preference.
func activeRules(file string) ([]detect.Rule, string, error) {
	if file == "" {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return nil, "", err
		}
		defer func() { _ = logger.Sync() }()
		file = cfg.Correlation.RulesFile
		if file == "" && len(cfg.Correlation.Rules) > 0 {
			return cfg.Correlation.Rules, "config", nil
		}
	}
	if file == "" {
		return detect.DefaultRules(), "built-in", nil
	}
	rules, err := detect.LoadRulesFile(file, nil)
	if err != nil {
		return nil, file, err
	}
	return rules, file, nil
}

func newRulesListCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the active correlation rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, source, err := activeRules(file)
			if err != nil {
				return err
			}
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), rules)
			}
			if !quiet {
				infoColor.Fprintf(cmd.OutOrStdout(), "Rules from %s\n\n", source)
			}
			renderRulesTable(cmd.OutOrStdout(), rules)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Rules file (default: configured rules file or built-in rules)")

	return cmd
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Validate rules files against the schema and rule constraints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				rules, err := detect.LoadRulesFile(path, nil)
				if err != nil {
					failed++
					errorColor.Fprintf(cmd.OutOrStdout(), "✗ %s\n", path)
					fmt.Fprintf(cmd.OutOrStdout(), "  %v\n", err)
					continue
				}
				successColor.Fprintf(cmd.OutOrStdout(), "✓ %s", path)
				fmt.Fprintf(cmd.OutOrStdout(), " (%d rules)\n", len(rules))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d rules files invalid", failed, len(args))
			}
			return nil
		},
	}
}

func newRulesExportCmd() *cobra.Command {
	var (
		file   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the active rules as a rules file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, _, err := activeRules(file)
			if err != nil {
				return err
			}
			data, err := detect.MarshalRules(rules, format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Rules file (default: configured rules file or built-in rules)")
	cmd.Flags().StringVar(&format, "format", detect.FormatYAML, "Output format (yaml, json)")

	return cmd
}
