// Package ssrf guards outbound fetches against server-side request forgery.
//
// The check is purely lexical: hostnames are matched as strings, never
// resolved. A DNS-resolving guard would still race rebinding attacks, so the
// policy here is a conservative deny-list of private and link-local shapes.
package ssrf

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrBlocked is the sentinel for any URL rejected by the guard.
// Redirect targets rejected mid-fetch wrap the same sentinel.
var ErrBlocked = errors.New("ssrf: target not allowed")

// metadataEndpoint is the cloud instance metadata address.
const metadataEndpoint = "169.254.169.254"

var blockedPrefixes = []string{
	"127.",
	"10.",
	"192.168.",
	"172.",
}

var blockedSuffixes = []string{
	".local",
	".internal",
}

// Check returns nil if url is fetchable under the guard policy, or an error
// wrapping ErrBlocked describing why it is not. Only absolute http/https URLs
// with a public-looking hostname pass.
func Check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: unparseable url", ErrBlocked)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrBlocked, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrBlocked)
	}

	if host == "localhost" || host == metadataEndpoint {
		return fmt.Errorf("%w: host %q", ErrBlocked, host)
	}

	for _, prefix := range blockedPrefixes {
		if strings.HasPrefix(host, prefix) {
			return fmt.Errorf("%w: private address %q", ErrBlocked, host)
		}
	}

	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("%w: internal hostname %q", ErrBlocked, host)
		}
	}

	return nil
}

// IsFetchAllowed reports whether url passes the guard.
func IsFetchAllowed(rawURL string) bool {
	return Check(rawURL) == nil
}
