package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Print a shareable link for document files",
	Long: `Render the documents and print a link that restores them, together with
the rendered output, in the web editor.

The link points at share.base_url. Documents not given on the command line
come from the default sample, or from --sample.

Examples:
  playground share -t template.md -m model.cto -d data.json
  playground share --sample latedelivery`,
	Args: cobra.NoArgs,
	RunE: runShare,
}

var (
	shareDocs   *DocumentFlags
	shareSample string
)

func init() {
	rootCmd.AddCommand(shareCmd)

	shareDocs = AddDocumentFlags(shareCmd)
	shareCmd.Flags().StringVarP(&shareSample, "sample", "s", "", "Start from this sample")
}

func runShare(cmd *cobra.Command, _ []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}

	store, err := prepareSession(contextOf(cmd), env, shareDocs, shareSample, "")
	if err != nil {
		return err
	}
	defer store.Close()

	if lastError := store.Snapshot().LastError; lastError != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: documents do not render:", lastError)
	}

	link, err := store.GenerateShareableLink()
	if err != nil {
		return fmt.Errorf("failed to generate link: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), link)
	return err
}
