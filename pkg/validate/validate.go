// Package validate checks stream URLs before any network I/O happens.
package validate

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// DefaultMaxURLLength bounds accepted URLs.
const DefaultMaxURLLength = 2048

// blockedSchemes are rejected regardless of the configured allow list.
var blockedSchemes = map[string]struct{}{
	"file":       {},
	"ftp":        {},
	"javascript": {},
	"data":       {},
	"mailto":     {},
	"tel":        {},
	"ssh":        {},
	"sftp":       {},
	"gopher":     {},
	"ldap":       {},
}

// URLValidator enforces the scheme whitelist, a length bound and optional
// private-address blocking. A negative result is fatal for the whole run.
type URLValidator struct {
	allowedSchemes  map[string]struct{}
	blockPrivateIPs bool
	maxURLLength    int
}

// NewURLValidator creates a validator. An empty scheme list defaults to
// http and https; a non-positive maxURLLength defaults to
// DefaultMaxURLLength.
func NewURLValidator(allowedSchemes []string, blockPrivateIPs bool, maxURLLength int) *URLValidator {
	if len(allowedSchemes) == 0 {
		allowedSchemes = []string{"http", "https"}
	}

	if maxURLLength <= 0 {
		maxURLLength = DefaultMaxURLLength
	}

	allowed := make(map[string]struct{}, len(allowedSchemes))
	for _, s := range allowedSchemes {
		allowed[strings.ToLower(s)] = struct{}{}
	}

	return &URLValidator{
		allowedSchemes:  allowed,
		blockPrivateIPs: blockPrivateIPs,
		maxURLLength:    maxURLLength,
	}
}

// Validate returns nil for an acceptable stream URL, or an error naming
// the first rule the URL breaks.
func (v *URLValidator) Validate(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url must be a non-empty string")
	}

	if len(rawURL) > v.maxURLLength {
		return fmt.Errorf("url exceeds maximum length of %d characters", v.maxURLLength)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url format: %w", err)
	}

	if parsed.Scheme == "" {
		return fmt.Errorf("url must include a scheme (http:// or https://)")
	}

	scheme := strings.ToLower(parsed.Scheme)

	if _, blocked := blockedSchemes[scheme]; blocked {
		return fmt.Errorf("scheme %q is not allowed", scheme)
	}

	if _, ok := v.allowedSchemes[scheme]; !ok {
		return fmt.Errorf("scheme %q is not allowed", scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("url must include a hostname")
	}

	if v.blockPrivateIPs {
		if err := checkPrivateHost(parsed.Hostname()); err != nil {
			return err
		}
	}

	if strings.Contains(parsed.Path, "../") || strings.Contains(parsed.Path, "..\\") {
		return fmt.Errorf("path traversal attempts are not allowed")
	}

	return nil
}

// checkPrivateHost rejects literal private, loopback and link-local
// addresses. Hostnames are not resolved; only literals are checked.
func checkPrivateHost(hostname string) error {
	if hostname == "localhost" {
		return fmt.Errorf("localhost addresses are not allowed: %s", hostname)
	}

	ip := net.ParseIP(hostname)
	if ip == nil {
		return nil
	}

	if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("private/internal ip addresses are not allowed: %s", hostname)
	}

	return nil
}

// Phase reports whether n names a pipeline phase.
func Phase(n int) bool {
	return n >= 1 && n <= 4
}

// SilenceThreshold reports whether t is a usable silence threshold in dB.
func SilenceThreshold(t float64) bool {
	return t >= -100 && t <= 0
}

// SampleDuration reports whether d seconds is a usable sample duration.
func SampleDuration(d int) bool {
	return d >= 1 && d <= 300
}
