package validation

import (
	"fmt"
	"net/url"
	"strings"
)

// unsafeURLChars break out of an HTML attribute or a terminal hyperlink.
const unsafeURLChars = "`\"'\\<> \n\r\t"

// ValidateURL checks that rawURL is an absolute http(s) URL that can be
// used as a share-link base or an allowed origin.
func ValidateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if !isWebScheme(parsed.Scheme) {
		return fmt.Errorf("invalid URL scheme: %q (only http/https allowed)", parsed.Scheme)
	}
	if i := strings.IndexAny(rawURL, unsafeURLChars); i >= 0 {
		return fmt.Errorf("URL contains dangerous character: %q", rawURL[i])
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}
	return nil
}
