package validation

import (
	"net/url"
	"path/filepath"
	"strings"
	"testing"
)

func FuzzValidateURL(f *testing.F) {
	f.Add("http://localhost:8080")
	f.Add("https://example.com/?data=abc")
	f.Add("javascript:alert('xss')")
	f.Add("data:text/html,<script>alert('xss')</script>")
	f.Add("file:///etc/passwd")
	f.Add("http://localhost:8080`whoami`")
	f.Add("http://localhost:8080\r\nHost: malicious.com")
	f.Add("JAVASCRIPT:alert('xss')")
	f.Add("http://")
	f.Add("")

	f.Fuzz(func(t *testing.T, testURL string) {
		if len(testURL) > 10000 {
			t.Skip("URL too long")
		}

		if ValidateURL(testURL) != nil {
			return
		}

		parsed, err := url.Parse(testURL)
		if err != nil {
			t.Fatalf("ValidateURL passed but url.Parse failed for %q", testURL)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			t.Errorf("ValidateURL allowed scheme %q", parsed.Scheme)
		}
		if parsed.Host == "" {
			t.Errorf("ValidateURL allowed URL without host: %q", testURL)
		}
		if strings.ContainsAny(testURL, " \n\r\t`\"'<>\\") {
			t.Errorf("ValidateURL allowed unsafe character in %q", testURL)
		}
	})
}

func FuzzValidatePath(f *testing.F) {
	f.Add("contract/template.md")
	f.Add("../../etc/passwd")
	f.Add("a/../../b")
	f.Add("/proc/self/environ")
	f.Add("data.json; rm -rf /")

	f.Fuzz(func(t *testing.T, path string) {
		if ValidatePath(path) != nil {
			return
		}
		for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(path)), "/") {
			if part == ".." {
				t.Errorf("ValidatePath allowed traversal in %q", path)
			}
		}
		if strings.ContainsAny(path, ";&|$`<>\x00") {
			t.Errorf("ValidatePath allowed shell character in %q", path)
		}
	})
}
