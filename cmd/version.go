package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/playground/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for playground: the version, git commit,
build time, Go version and platform.

Examples:
  playground version
  playground version --short
  playground version --format json`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

var (
	versionFormat = newChoiceValue("text", "text", "json", "yaml")
	versionShort  bool
)

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().VarP(versionFormat, "format", "f", "Output format (text, json, yaml)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show the version number only")
}

func runVersion(cmd *cobra.Command, _ []string) error {
	info := version.Get()
	out := cmd.OutOrStdout()

	switch versionFormat.String() {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(info)
	case "yaml":
		return yaml.NewEncoder(out).Encode(info)
	}

	if versionShort {
		_, err := fmt.Fprintln(out, info.Short())
		return err
	}
	_, err := fmt.Fprintln(out, info.String())
	return err
}
