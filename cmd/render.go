package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/renderer"
	"github.com/conneroisu/playground/internal/samples"
	"github.com/conneroisu/playground/internal/session"
)

var errRenderFailed = errors.New("render failed")

var renderCmd = &cobra.Command{
	Use:     "render",
	Aliases: []string{"r"},
	Short:   "Render a sample, a shared link or document files",
	Long: `Render documents once and print the result.

Documents come from a built-in sample (the default sample unless --sample
is given) or a shared link; --template, --model and --data replace
individual documents afterwards.

Examples:
  playground render --sample helloworld
  playground render --sample helloworld --data data.json --format text
  playground render --link 'http://localhost:8080?data=...'
  playground render -t template.md -m model.cto -d data.jsonc`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

var (
	renderDocs   *DocumentFlags
	renderSample string
	renderLink   string
	renderFormat = newChoiceValue("html", "html", "text")
)

func init() {
	rootCmd.AddCommand(renderCmd)

	renderDocs = AddDocumentFlags(renderCmd)
	renderCmd.Flags().StringVarP(&renderSample, "sample", "s", "", "Start from this sample")
	renderCmd.Flags().StringVar(&renderLink, "link", "", "Start from a shared link or token")
	renderCmd.Flags().VarP(renderFormat, "format", "f", "Output format (html, text)")
	renderCmd.MarkFlagsMutuallyExclusive("sample", "link")
}

func runRender(cmd *cobra.Command, _ []string) error {
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}

	store, err := prepareSession(contextOf(cmd), env, renderDocs, renderSample, renderLink)
	if err != nil {
		return err
	}
	defer store.Close()

	snap := store.Snapshot()
	if snap.LastError != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), snap.LastError)
		return errRenderFailed
	}

	output := snap.DerivedOutput
	if renderFormat.String() == "text" {
		if output, err = renderer.PlainText(output); err != nil {
			return fmt.Errorf("failed to convert output to text: %w", err)
		}
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), output)
	return err
}

// prepareSession builds a session from a link or sample, overlays the
// document files and waits for the resulting rebuild.
func prepareSession(ctx context.Context, env *environment, docs *DocumentFlags, sample, link string) (*session.Store, error) {
	store, err := env.newStore(oneShotDebounce)
	if err != nil {
		return nil, err
	}

	if err := seedSession(store, docs, sample, link); err != nil {
		store.Close()
		return nil, err
	}

	if timeout := env.cfg.Pipeline.RenderTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*timeout)
		defer cancel()
	}
	if err := store.Wait(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("waiting for render: %w", err)
	}
	return store, nil
}

func seedSession(store *session.Store, docs *DocumentFlags, sample, link string) error {
	if link != "" {
		token, err := session.TokenFromLink(link)
		if err != nil {
			return err
		}
		if err := store.Initialize(token); err != nil {
			return err
		}
	} else {
		if sample == "" {
			sample = samples.DefaultAlias
		}
		if !store.LoadSample(sample) {
			return perrors.ErrUnknownSample(sample)
		}
	}
	return applyDocuments(store, docs.Paths())
}
