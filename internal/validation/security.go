// Package validation provides checks applied to untrusted input before it
// reaches the filesystem, a browser, or a WebSocket upgrade.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// systemDirs are never read from or written to by document commands.
var systemDirs = []string{"/etc/", "/proc/", "/sys/", "/dev/", "/boot/"}

// shellChars cannot appear in a document path.
const shellChars = ";&|$`<>\x00"

// ValidatePath rejects document paths that climb out of their directory,
// point into system directories or carry shell metacharacters.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if i := strings.IndexAny(path, shellChars); i >= 0 {
		return fmt.Errorf("path contains dangerous character: %q", path[i])
	}

	slashed := filepath.ToSlash(filepath.Clean(path))
	for _, segment := range strings.Split(slashed, "/") {
		if segment == ".." {
			return fmt.Errorf("path traversal detected: %s", path)
		}
	}

	lower := strings.ToLower(slashed)
	for _, dir := range systemDirs {
		if strings.HasPrefix(lower, dir) {
			return fmt.Errorf("access to restricted path denied: %s", path)
		}
	}
	return nil
}

// ValidateOrigin checks a WebSocket Origin header against the allowed list.
// An entry matches the full origin or its host:port; "*" allows any http(s)
// origin.
func ValidateOrigin(origin string, allowedOrigins []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}
	if !isWebScheme(parsed.Scheme) {
		return fmt.Errorf("invalid origin scheme %q: only http and https are allowed", parsed.Scheme)
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || allowed == origin || allowed == parsed.Host {
			return nil
		}
	}
	return fmt.Errorf("origin %q is not in allowed origins list", origin)
}

func isWebScheme(scheme string) bool {
	return scheme == "http" || scheme == "https"
}
