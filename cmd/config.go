package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/playground/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect playground configuration",
	Long: `Inspect the resolved configuration or validate a configuration file.

Examples:
  playground config show
  playground config show --format json
  playground config validate --file .playground.yml --strict`,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	Long: `Display the configuration after defaults, the configuration file,
environment variables and flags have been applied.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var (
	configFile   string
	configStrict bool
	configFormat = newChoiceValue("yaml", "yaml", "json")
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configValidateCmd.Flags().StringVarP(&configFile, "file", "f", "",
		"Configuration file to validate (default: the resolved configuration)")
	configValidateCmd.Flags().BoolVar(&configStrict, "strict", false, "Treat warnings as errors")

	configShowCmd.Flags().Var(configFormat, "format", "Output format (yaml, json)")
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	if configFile != "" {
		v = viper.New()
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read %s: %w", configFile, err)
		}
	}

	cfg, err := config.Decode(v)
	if err != nil {
		return fmt.Errorf("failed to decode configuration: %w", err)
	}

	result := config.ValidateConfigWithDetails(cfg)
	out := cmd.OutOrStdout()
	if result.HasErrors() || result.HasWarnings() {
		fmt.Fprint(out, result.String())
	}

	switch {
	case result.HasErrors():
		return fmt.Errorf("configuration validation failed with %d errors", len(result.Errors))
	case result.HasWarnings() && configStrict:
		return fmt.Errorf("configuration validation failed in strict mode with %d warnings", len(result.Warnings))
	case result.HasWarnings():
		fmt.Fprintf(out, "Configuration is valid with %d warnings. Use --strict to treat warnings as errors.\n",
			len(result.Warnings))
	default:
		fmt.Fprintln(out, "Configuration is valid.")
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	if configFormat.String() == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	}
	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return err
	}
	return encoder.Close()
}
