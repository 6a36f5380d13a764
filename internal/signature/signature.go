// Package signature computes stable content-based fingerprints for detected
// issues. The fingerprint is the join key between per-run Issue rows and the
// persistent cross-run IssueState records: the same real-world problem found
// on different days must hash to the same value, so inputs are normalized
// (case, whitespace, URL path) and volatile fields (ids, run ids, timestamps)
// are excluded.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Compute returns the deterministic fingerprint for an issue as a 64-character
// lowercase hex string. Stable across runs for the same (category,
// description, pageURL) content.
func Compute(category, description, pageURL string) string {
	canonical := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(category)),
		collapseWhitespace(strings.ToLower(strings.TrimSpace(description))),
		NormalizePath(pageURL),
	}, "\n")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// NormalizePath reduces a page URL to its path component for fingerprinting:
// lowercased, query and fragment dropped, trailing slash stripped. The host is
// excluded because issues are already scoped to a domain. Inputs that are bare
// paths (no scheme) are handled the same way. Returns "/" for the root or for
// unparseable input.
func NormalizePath(pageURL string) string {
	raw := strings.TrimSpace(pageURL)
	if raw == "" {
		return "/"
	}

	path := raw
	if u, err := url.Parse(raw); err == nil {
		path = u.EscapedPath()
		// Bare host with no path, e.g. "https://example.com"
		if path == "" && u.Host != "" {
			return "/"
		}
	}

	path = strings.ToLower(path)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimRight(path, "/")
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// NormalizeDomain reduces a user-supplied site address to its canonical
// origin: scheme + lowercased host, no path, query, or trailing slash.
// A missing scheme defaults to https. Returns an error for input that has no
// usable host.
func NormalizeDomain(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("domain is empty")
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid domain %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" || !strings.Contains(host, ".") {
		return "", fmt.Errorf("invalid domain %q", raw)
	}

	// Keep non-default ports so staging sites on :8080 stay distinct
	if p := u.Port(); p != "" && p != "80" && p != "443" {
		host = host + ":" + p
	}

	return u.Scheme + "://" + host, nil
}

// collapseWhitespace replaces every run of whitespace with a single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
