// Package config provides configuration management for the playground using
// Viper for loading from files, environment variables, and command-line
// flags.
//
// The configuration file is YAML (.playground.yml by default). Every key
// can be overridden from the environment with the PLAYGROUND_ prefix, dots
// replaced by underscores: PLAYGROUND_SERVER_PORT, PLAYGROUND_SHARE_BASE_URL.
package config

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/playground/internal/codec"
	perrors "github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLAYGROUND"

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = ".playground.yml"

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
	Share    ShareConfig    `mapstructure:"share" yaml:"share" json:"share"`
	Samples  SamplesConfig  `mapstructure:"samples" yaml:"samples" json:"samples"`
	Renderer RendererConfig `mapstructure:"renderer" yaml:"renderer" json:"renderer"`
	Log      LogConfig      `mapstructure:"log" yaml:"log" json:"log"`
}

type ServerConfig struct {
	Host           string   `mapstructure:"host" yaml:"host" json:"host"`
	Port           int      `mapstructure:"port" yaml:"port" json:"port"`
	Open           bool     `mapstructure:"open" yaml:"open" json:"open"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
	Environment    string   `mapstructure:"environment" yaml:"environment" json:"environment"`
}

type PipelineConfig struct {
	Debounce      time.Duration `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
	RenderTimeout time.Duration `mapstructure:"render_timeout" yaml:"render_timeout" json:"render_timeout"`
}

type ShareConfig struct {
	BaseURL         string `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Compression     string `mapstructure:"compression" yaml:"compression" json:"compression"`
	MaxDecodedBytes int    `mapstructure:"max_decoded_bytes" yaml:"max_decoded_bytes" json:"max_decoded_bytes"`
}

type SamplesConfig struct {
	Default string `mapstructure:"default" yaml:"default" json:"default"`
}

type RendererConfig struct {
	CacheEntries      int           `mapstructure:"cache_entries" yaml:"cache_entries" json:"cache_entries"`
	ModelFetchTimeout time.Duration `mapstructure:"model_fetch_timeout" yaml:"model_fetch_timeout" json:"model_fetch_timeout"`
	AllowRemoteModels bool          `mapstructure:"allow_remote_models" yaml:"allow_remote_models" json:"allow_remote_models"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// Defaults maps every known key to its default value. Registering them
// also makes viper consult the environment for keys absent from the file.
var Defaults = map[string]interface{}{
	"server.host":                  "localhost",
	"server.port":                  8080,
	"server.open":                  false,
	"server.allowed_origins":       []string{},
	"server.environment":           "development",
	"pipeline.debounce":            500 * time.Millisecond,
	"pipeline.render_timeout":      30 * time.Second,
	"share.base_url":               "http://localhost:8080",
	"share.compression":            codec.CompressionZstd.String(),
	"share.max_decoded_bytes":      codec.DefaultMaxDecodedBytes,
	"samples.default":              "playground",
	"renderer.cache_entries":       64,
	"renderer.model_fetch_timeout": 10 * time.Second,
	"renderer.allow_remote_models": true,
	"log.level":                    "info",
	"log.format":                   "text",
}

// SetDefaults registers Defaults and the environment binding on v.
func SetDefaults(v *viper.Viper) {
	for key, value := range Defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	config, err := Decode(v)
	if err != nil {
		return nil, err
	}

	result := ValidateConfigWithDetails(config)
	if result.HasErrors() {
		return nil, fmt.Errorf("invalid configuration: %w", &result.Errors[0])
	}

	return config, nil
}

// Decode reads the configuration held by v without validating it.
func Decode(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, perrors.WrapConfig(err, perrors.ErrCodeConfigInvalid, "failed to decode configuration")
	}

	// Comma separated lists arrive as a single string from the environment.
	config.Server.AllowedOrigins = splitList(strings.Join(config.Server.AllowedOrigins, ","))
	return &config, nil
}

// Address is the host:port the server listens on.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// CompressionTag is the parsed share.compression value.
func (c *Config) CompressionTag() codec.CompressionTag {
	tag, err := codec.ParseCompressionTag(c.Share.Compression)
	if err != nil {
		return codec.CompressionZstd
	}
	return tag
}

// Codec builds the share-link codec described by the share section.
func (c *Config) Codec() *codec.Codec {
	return codec.New(
		codec.WithCompression(c.CompressionTag()),
		codec.WithMaxDecodedBytes(c.Share.MaxDecodedBytes),
	)
}

// Logger builds the logger described by the log section.
func (c *Config) Logger(out io.Writer) *logging.PlaygroundLogger {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: c.Log.Format,
		Output: out,
	})
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
