package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/conneroisu/playground/internal/document"
	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/samples"
	"github.com/conneroisu/playground/internal/session"
	"github.com/conneroisu/playground/internal/validation"
)

// DocumentFlags names the files holding each document.
type DocumentFlags struct {
	Template string
	Model    string
	Data     string
}

// AddDocumentFlags adds --template, --model and --data to cmd.
func AddDocumentFlags(cmd *cobra.Command) *DocumentFlags {
	flags := &DocumentFlags{}
	fs := pflag.NewFlagSet("documents", pflag.ContinueOnError)
	fs.StringVarP(&flags.Template, "template", "t", "", "Template file (markdown)")
	fs.StringVarP(&flags.Model, "model", "m", "", "Model file")
	fs.StringVarP(&flags.Data, "data", "d", "", "Data file (JSON or JSONC)")
	cmd.Flags().AddFlagSet(fs)
	return flags
}

// Paths returns the configured file for each document kind that has one.
func (f *DocumentFlags) Paths() map[document.Kind]string {
	paths := make(map[document.Kind]string)
	for kind, path := range map[document.Kind]string{
		document.Template: f.Template,
		document.Model:    f.Model,
		document.Data:     f.Data,
	} {
		if path != "" {
			paths[kind] = path
		}
	}
	return paths
}

// RequireAll fails unless all three files are given.
func (f *DocumentFlags) RequireAll() error {
	var missing []string
	for _, kind := range document.Kinds {
		if _, ok := f.Paths()[kind]; !ok {
			missing = append(missing, "--"+kind.String())
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	return nil
}

// readDocument reads a document file. Data files may be JSONC and are
// normalized to indented JSON; data that does not parse is passed through
// unchanged so the session reports it.
func readDocument(kind document.Kind, path string) (string, error) {
	if err := validation.ValidatePath(path); err != nil {
		return "", fmt.Errorf("invalid %s path: %w", kind, err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		code := perrors.ErrCodeFileRead
		if errors.Is(err, fs.ErrNotExist) {
			code = perrors.ErrCodeFileNotFound
		}
		return "", perrors.WrapIO(err, code, fmt.Sprintf("failed to read %s file %s", kind, path))
	}
	text := string(content)
	if kind == document.Data {
		if pretty, err := samples.PrettyData(text); err == nil {
			return pretty, nil
		}
	}
	return text, nil
}

// applyDocuments sets each document named in paths on store, in document
// order.
func applyDocuments(store *session.Store, paths map[document.Kind]string) error {
	for _, kind := range document.Kinds {
		path, ok := paths[kind]
		if !ok {
			continue
		}
		text, err := readDocument(kind, path)
		if err != nil {
			return err
		}
		if err := store.Set(kind, text); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// choiceValue is a string flag restricted to a fixed set of values.
type choiceValue struct {
	value   string
	choices []string
}

func newChoiceValue(def string, choices ...string) *choiceValue {
	return &choiceValue{value: def, choices: choices}
}

func (c *choiceValue) String() string { return c.value }

func (c *choiceValue) Set(s string) error {
	for _, choice := range c.choices {
		if s == choice {
			c.value = s
			return nil
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(c.choices, ", "))
}

func (c *choiceValue) Type() string { return "string" }

var _ pflag.Value = (*choiceValue)(nil)
