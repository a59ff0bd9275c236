// Package cmd provides the playground command-line interface.
//
// Configuration is read, lowest priority first, from defaults, the
// .playground.yml file in the working directory (or the file named by
// --config or PLAYGROUND_CONFIG_FILE), PLAYGROUND_<SECTION>_<KEY>
// environment variables and finally command flags.
package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/playground/internal/config"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/model"
	"github.com/conneroisu/playground/internal/renderer"
	"github.com/conneroisu/playground/internal/samples"
	"github.com/conneroisu/playground/internal/session"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "playground",
	Short: "Edit a template, its model and data, and watch the rendered result",
	Long: `playground keeps a template, a model describing the template's data, and
the data itself in sync with their rendered output.

Quick Start:
  playground serve                       Start the web editor
  playground render --sample helloworld  Render a built-in sample
  playground share -t t.md -m m.cto -d data.json
                                         Print a shareable link
  playground open <link> --out ./doc     Write a shared session to files
  playground watch -t t.md -m m.cto -d data.json
                                         Re-render whenever the files change`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is "+config.DefaultFile+", can also use PLAYGROUND_CONFIG_FILE)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case os.Getenv("PLAYGROUND_CONFIG_FILE") != "":
		viper.SetConfigFile(os.Getenv("PLAYGROUND_CONFIG_FILE"))
	default:
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(strings.TrimSuffix(config.DefaultFile, ".yml"))
	}

	// A missing file leaves the defaults in place.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// environment is what every command needs to build sessions.
type environment struct {
	cfg      *config.Config
	logger   logging.Logger
	renderer *renderer.Renderer
	catalog  *samples.Catalog
}

func loadEnvironment(cmd *cobra.Command) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := cfg.Logger(cmd.ErrOrStderr())

	builtin, err := samples.Builtin()
	if err != nil {
		return nil, fmt.Errorf("failed to load samples: %w", err)
	}
	catalog, err := builtin.WithDefault(cfg.Samples.Default)
	if err != nil {
		return nil, err
	}

	var resolver model.Resolver
	if cfg.Renderer.AllowRemoteModels {
		resolver = model.NewHTTPResolver(cfg.Renderer.ModelFetchTimeout, logger)
	}

	return &environment{
		cfg:    cfg,
		logger: logger,
		renderer: renderer.New(renderer.Options{
			Resolver:     resolver,
			CacheEntries: cfg.Renderer.CacheEntries,
			Logger:       logger,
		}),
		catalog: catalog,
	}, nil
}

// oneShotDebounce replaces the interactive debounce for commands that set
// every document up front and wait for a single result.
const oneShotDebounce = time.Millisecond

func (e *environment) newStore(debounce time.Duration) (*session.Store, error) {
	return session.New(session.Options{
		Renderer:      e.renderer,
		Catalog:       e.catalog,
		Codec:         e.cfg.Codec(),
		BaseURL:       e.cfg.Share.BaseURL,
		Debounce:      debounce,
		RenderTimeout: e.cfg.Pipeline.RenderTimeout,
		Sanitize:      renderer.Sanitize,
		Logger:        e.logger,
	})
}
