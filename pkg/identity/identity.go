// Package identity derives the deterministic and random identifiers that
// key persisted test results.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// StreamIDLength is the number of hex characters kept from the URL hash.
const StreamIDLength = 16

// NewTestRunID returns a random identifier unique to one pipeline run.
func NewTestRunID() string {
	return uuid.NewString()
}

// ValidTestRunID reports whether s is an acceptable caller-supplied run ID.
func ValidTestRunID(s string) bool {
	_, err := uuid.Parse(s)

	return err == nil
}

// StreamID derives a deterministic identifier from a stream URL. The same
// normalized URL always maps to the same ID, so repeated tests of one
// stream group under one record set.
func StreamID(rawURL string) (string, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256([]byte(normalized))

	return hex.EncodeToString(sum[:])[:StreamIDLength], nil
}

// NormalizeURL canonicalizes a URL for ID derivation: the whole URL is
// lowercased, an empty path becomes "/", query parameters are sorted by
// key, and the fragment is dropped (it is never sent to the server).
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.ToLower(strings.TrimSpace(rawURL)))
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url %q missing scheme or host", rawURL)
	}

	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	normalized := parsed.Scheme + "://" + parsed.Host + path

	if parsed.RawQuery != "" {
		values, err := url.ParseQuery(parsed.RawQuery)
		if err != nil {
			return "", fmt.Errorf("parsing query: %w", err)
		}

		// Encode sorts keys, giving a stable parameter order.
		normalized += "?" + values.Encode()
	}

	return normalized, nil
}
