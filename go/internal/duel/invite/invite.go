// Package invite builds and reads the shareable room link. The token is the
// host's connection identifier carried in a single query parameter.
package invite

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// QueryParam is the query parameter carrying the token.
const QueryParam = "room"

// ErrNoToken is returned by Parse when the link carries no token.
var ErrNoToken = errors.New("no invite token")

// Token is the host's connection identifier. It is generated once per session
// and never mutated.
type Token string

// URL embeds hostID into base. Any existing query and fragment of base are
// dropped, and a directory-like path gets a trailing slash.
func URL(base string, hostID string) (string, error) {
	if hostID == "" {
		return "", fmt.Errorf("build invite: %w", ErrNoToken)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	if !strings.HasSuffix(u.Path, "/") && !strings.Contains(path.Base(u.Path), ".") {
		u.Path += "/"
	}

	q := url.Values{}
	q.Set(QueryParam, hostID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Parse extracts the token from raw and returns the link with the token removed,
// which is what the page should display from then on.
func Parse(raw string) (Token, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse invite: %w", err)
	}

	q := u.Query()
	token := q.Get(QueryParam)
	if token == "" {
		return "", raw, ErrNoToken
	}

	q.Del(QueryParam)
	u.RawQuery = q.Encode()
	return Token(token), u.String(), nil
}
