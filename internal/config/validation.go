package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/conneroisu/playground/internal/codec"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("    - %s\n", suggestion))
			}
		}
	}

	write("Validation errors", vr.Errors)
	write("Validation warnings", vr.Warnings)
	return builder.String()
}

func (vr *ValidationResult) fail(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) warn(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// ValidateConfigWithDetails checks every section and collects all problems.
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateServerConfigDetails(&config.Server, result)
	validatePipelineConfigDetails(&config.Pipeline, result)
	validateShareConfigDetails(&config.Share, result)
	validateRendererConfigDetails(config, result)
	validateLogConfigDetails(&config.Log, result)

	if strings.TrimSpace(config.Samples.Default) == "" {
		result.fail("samples.default", config.Samples.Default, "default sample cannot be empty")
	}

	result.Valid = !result.HasErrors()
	return result
}

func validateServerConfigDetails(config *ServerConfig, result *ValidationResult) {
	// Port 0 lets the system pick one, which tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		result.fail("server.port", config.Port,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			"Use a port between 1024-65535 for non-privileged access",
			"Port 0 allows system to assign an available port")
	} else if config.Port > 0 && config.Port < 1024 {
		result.warn("server.port", config.Port, "port below 1024 requires elevated privileges")
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.fail("server.host", config.Host, err.Error(),
				"Use 'localhost' for local development",
				"Use '0.0.0.0' to bind to all interfaces")
		}
	}

	validEnvs := []string{"development", "production", "testing"}
	if config.Environment != "" && !contains(validEnvs, config.Environment) {
		result.warn("server.environment", config.Environment, "unknown environment type",
			"Valid environments: "+strings.Join(validEnvs, ", "))
	}

	for _, origin := range config.AllowedOrigins {
		if origin == "*" {
			continue
		}
		if err := validation.ValidateURL(origin); err != nil && validateHostname(hostOnly(origin)) != nil {
			result.fail("server.allowed_origins", origin, fmt.Sprintf("invalid origin: %v", err),
				"List origins as scheme://host[:port] or bare host[:port]")
		}
	}
}

func validatePipelineConfigDetails(config *PipelineConfig, result *ValidationResult) {
	if config.Debounce <= 0 {
		result.fail("pipeline.debounce", config.Debounce, "debounce must be positive")
	} else if config.Debounce < 50*time.Millisecond {
		result.warn("pipeline.debounce", config.Debounce, "very short debounce renders on almost every keystroke")
	}
	if config.RenderTimeout < 0 {
		result.fail("pipeline.render_timeout", config.RenderTimeout, "render timeout cannot be negative",
			"Use 0 to disable the timeout")
	}
}

func validateShareConfigDetails(config *ShareConfig, result *ValidationResult) {
	if err := validation.ValidateURL(config.BaseURL); err != nil {
		result.fail("share.base_url", config.BaseURL, err.Error(),
			"Share links need an absolute http(s) URL such as http://localhost:8080")
	}
	if _, err := codec.ParseCompressionTag(config.Compression); err != nil {
		result.fail("share.compression", config.Compression, err.Error(),
			"Valid compressions: zstd, lz4, none")
	}
	if config.MaxDecodedBytes <= 0 {
		result.fail("share.max_decoded_bytes", config.MaxDecodedBytes, "limit must be positive")
	}
}

func validateRendererConfigDetails(config *Config, result *ValidationResult) {
	r := &config.Renderer
	if r.ModelFetchTimeout <= 0 && r.AllowRemoteModels {
		result.fail("renderer.model_fetch_timeout", r.ModelFetchTimeout,
			"remote models need a positive fetch timeout")
	}
	if r.AllowRemoteModels && config.IsProduction() {
		result.warn("renderer.allow_remote_models", r.AllowRemoteModels,
			"models may fetch arbitrary URLs from the server",
			"Set renderer.allow_remote_models to false for public deployments")
	}
}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.fail("log.level", config.Level, err.Error(), "Valid levels: debug, info, warn, error")
	}
	if config.Format != "" && config.Format != "text" && config.Format != "json" {
		result.fail("log.format", config.Format, "unknown log format", "Valid formats: text, json")
	}
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateHostname(host string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil {
		return nil
	}

	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}

	return nil
}

func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
