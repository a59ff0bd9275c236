package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		expectErr bool
	}{
		{"localhost", "http://localhost:8080", false},
		{"https", "https://example.com/play", false},
		{"share link", "http://localhost:8080/?data=KLUv_QBY&theme=dark", false},
		{"javascript scheme", "javascript:alert('xss')", true},
		{"file scheme", "file:///etc/passwd", true},
		{"data scheme", "data:text/html,<script>alert(1)</script>", true},
		{"no host", "http://", true},
		{"relative", "/editor", true},
		{"backtick", "http://localhost:8080/`whoami`", true},
		{"newline", "http://localhost:8080\nGET /admin", true},
		{"space", "http://localhost:8080/a b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		expectErr bool
	}{
		{"relative", "contract/template.md", false},
		{"absolute", "/home/me/model.cto", false},
		{"dots in name", "data..jsonc", false},
		{"empty", "", true},
		{"traversal", "../../etc/passwd", true},
		{"restricted", "/etc/shadow", true},
		{"proc", "/proc/self/environ", true},
		{"shell", "data.json; rm -rf /", true},
		{"null byte", "data\x00.json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"http://localhost:8080", "play.example.com"}

	tests := []struct {
		name      string
		origin    string
		allowed   []string
		expectErr bool
	}{
		{"exact", "http://localhost:8080", allowed, false},
		{"host match", "https://play.example.com", allowed, false},
		{"wildcard", "https://anything.test", []string{"*"}, false},
		{"missing", "", allowed, true},
		{"other host", "http://evil.test", allowed, true},
		{"bad scheme", "file://localhost:8080", allowed, true},
		{"wildcard still needs http", "chrome-extension://abc", []string{"*"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrigin(tt.origin, tt.allowed)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
