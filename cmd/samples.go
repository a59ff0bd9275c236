package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var samplesCmd = &cobra.Command{
	Use:     "samples",
	Aliases: []string{"ls"},
	Short:   "List the built-in samples",
	Long: `List the built-in samples in display order. The default sample is marked
with an asterisk in table output.

Examples:
  playground samples
  playground samples --output json`,
	Args: cobra.NoArgs,
	RunE: runSamples,
}

var samplesOutput = newChoiceValue("table", "table", "json", "yaml")

func init() {
	rootCmd.AddCommand(samplesCmd)
	samplesCmd.Flags().VarP(samplesOutput, "output", "o", "Output format (table, json, yaml)")
}

type sampleInfo struct {
	Name        string `json:"name" yaml:"name"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Default     bool   `json:"default" yaml:"default"`
}

func runSamples(cmd *cobra.Command, _ []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}

	def := env.catalog.Default().Name
	var infos []sampleInfo
	for _, s := range env.catalog.List() {
		infos = append(infos, sampleInfo{
			Name:        s.Name,
			Title:       s.Title,
			Description: s.Description,
			Default:     s.Name == def,
		})
	}

	out := cmd.OutOrStdout()
	switch samplesOutput.String() {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(infos)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		if err := encoder.Encode(infos); err != nil {
			return err
		}
		return encoder.Close()
	default:
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTITLE\tDESCRIPTION")
		for _, info := range infos {
			name := info.Name
			if info.Default {
				name += "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, info.Title, info.Description)
		}
		return w.Flush()
	}
}
