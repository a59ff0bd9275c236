package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/playground/internal/document"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/session"
	"github.com/conneroisu/playground/internal/watcher"
)

// fileSettleDelay groups the events of a single editor save.
const fileSettleDelay = 50 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Re-render whenever document files change",
	Long: `Watch the template, model and data files and re-render after every change.

The output is written to --out, or printed, each time a rebuild succeeds.
Render errors are logged and the previous output is kept.

Examples:
  playground watch -t template.md -m model.cto -d data.json
  playground watch -t template.md -m model.cto -d data.json --out preview.html`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchDocs *DocumentFlags
	watchOut  string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchDocs = AddDocumentFlags(watchCmd)
	watchCmd.Flags().StringVarP(&watchOut, "out", "o", "", "File to write the output to (default stdout)")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	if err := watchDocs.RequireAll(); err != nil {
		return err
	}
	env, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOf(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return watchDocuments(ctx, env, watchDocs.Paths(), outputSink(cmd.OutOrStdout(), watchOut))
}

// outputSink writes each new output to path, or to w when path is empty.
func outputSink(w io.Writer, path string) func(string) error {
	if path == "" {
		return func(output string) error {
			_, err := fmt.Fprintln(w, output)
			return err
		}
	}
	return func(output string) error {
		return os.WriteFile(path, []byte(output), 0o644)
	}
}

// watchDocuments feeds the files in paths into a session until ctx is done,
// passing every successful rebuild's output to emit.
func watchDocuments(ctx context.Context, env *environment, paths map[document.Kind]string, emit func(string) error) error {
	logger := env.logger.WithComponent("watch")

	store, err := env.newStore(env.cfg.Pipeline.Debounce)
	if err != nil {
		return err
	}
	defer store.Close()

	fw, err := watcher.NewFileWatcher(fileSettleDelay, env.logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	kinds := make(map[string]document.Kind, len(paths))
	for kind, path := range paths {
		abs, err := fw.AddFile(path)
		if err != nil {
			_ = fw.Stop()
			return err
		}
		kinds[abs] = kind
	}

	var (
		mu        sync.Mutex
		lastOut   string
		lastError string
	)
	unsubscribe := store.Subscribe(func(snap session.Snapshot) {
		if snap.Rebuilding {
			return
		}
		mu.Lock()
		defer mu.Unlock()

		if snap.LastError != "" {
			if snap.LastError != lastError {
				logger.Warn(ctx, nil, "Render failed", "error", snap.LastError)
			}
			lastError = snap.LastError
			return
		}
		lastError = ""
		if snap.DerivedOutput == lastOut {
			return
		}
		lastOut = snap.DerivedOutput
		if err := emit(snap.DerivedOutput); err != nil {
			logger.Error(ctx, err, "Failed to write output")
			return
		}
		logger.Info(ctx, "Rendered", "version", snap.Version)
	})
	defer unsubscribe()

	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		for _, event := range events {
			kind, ok := kinds[event.Path]
			if !ok {
				continue
			}
			if event.Type == watcher.EventTypeDeleted {
				logger.Warn(ctx, nil, "Document file removed", "kind", kind.String(), "path", event.Path)
				continue
			}
			logger.Debug(ctx, "Document changed", "kind", kind.String(), "event", event.Type.String())
			if err := setDocument(store, kind, event.Path); err != nil {
				logger.Warn(ctx, err, "Ignored document change", "kind", kind.String())
			}
		}
		return nil
	})

	if err := applyInitial(store, paths, logger); err != nil {
		_ = fw.Stop()
		return err
	}

	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return err
	}
	logger.Info(ctx, "Watching documents", "files", len(paths))

	<-ctx.Done()
	return fw.Stop()
}

// applyInitial loads every file once. Malformed data is logged rather than
// fatal so the watch can start while the data is being fixed.
func applyInitial(store *session.Store, paths map[document.Kind]string, logger logging.Logger) error {
	for _, kind := range document.Kinds {
		path, ok := paths[kind]
		if !ok {
			continue
		}
		if err := setDocument(store, kind, path); err != nil {
			if _, readErr := os.Stat(path); readErr != nil {
				return err
			}
			logger.Warn(context.Background(), err, "Document not loaded", "kind", kind.String())
		}
	}
	return nil
}

func setDocument(store *session.Store, kind document.Kind, path string) error {
	text, err := readDocument(kind, path)
	if err != nil {
		return err
	}
	return store.Set(kind, text)
}
