package session

import (
	"net/url"
	"strings"

	perrors "github.com/conneroisu/playground/internal/errors"
)

// ShareURL returns base with the token in the share query parameter.
func ShareURL(base *url.URL, token string) string {
	u := *base
	q := u.Query()
	q.Set(ShareParam, token)
	u.RawQuery = q.Encode()
	return u.String()
}

// TokenFromLink extracts the share token from a link. Input without a
// scheme is taken to be a bare token.
func TokenFromLink(link string) (string, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", perrors.NewDecodeError("share link is empty", nil)
	}
	if !strings.Contains(link, "://") {
		return link, nil
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", perrors.NewDecodeError("share link is not a valid URL", err)
	}
	token := u.Query().Get(ShareParam)
	if token == "" {
		return "", perrors.NewDecodeError("share link has no "+ShareParam+" parameter", nil)
	}
	return token, nil
}
