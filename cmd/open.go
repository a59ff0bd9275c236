package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/session"
	"github.com/conneroisu/playground/internal/validation"
)

var openCmd = &cobra.Command{
	Use:   "open <link-or-token>",
	Short: "Write the documents in a shared link to files",
	Long: `Decode a shared link and write its documents to a directory:

  template.md   the template
  model.cto     the model
  data.json     the data
  output.html   the output rendered when the link was made

Examples:
  playground open 'http://localhost:8080?data=...'
  playground open KLUv_Q... --out ./shared`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

var (
	openOut   string
	openForce bool
)

func init() {
	rootCmd.AddCommand(openCmd)

	openCmd.Flags().StringVarP(&openOut, "out", "o", ".", "Directory to write the documents to")
	openCmd.Flags().BoolVar(&openForce, "force", false, "Overwrite existing files")
}

func runOpen(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}

	token, err := session.TokenFromLink(args[0])
	if err != nil {
		return err
	}
	record, err := env.cfg.Codec().Decode(token)
	if err != nil {
		return err
	}

	if err := validation.ValidatePath(openOut); err != nil {
		return fmt.Errorf("invalid output directory: %w", err)
	}
	if err := os.MkdirAll(openOut, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", openOut, err)
	}

	files := []struct {
		name    string
		content string
	}{
		{"template.md", record.TemplateMarkdown},
		{"model.cto", record.ModelCto},
		{"data.json", record.Data},
		{"output.html", record.AgreementHTML},
	}

	if !openForce {
		for _, f := range files {
			path := filepath.Join(openOut, f.name)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
	}

	for _, f := range files {
		path := filepath.Join(openOut, f.name)
		if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
			return perrors.NewIOError(perrors.ErrCodeFileWrite, "failed to write "+path, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Wrote", path)
	}
	return nil
}
