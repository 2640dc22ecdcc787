// Package scrape implements the ingestion pipeline: per-category collectors,
// URL canonicalization and fingerprinting, candidate validation, and the
// rate-limited collect loop that feeds the article store.
package scrape

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query parameters that identify a click, not a document.
// Two URLs differing only in these collapse to one fingerprint.
var trackingParams = map[string]bool{
	"fbclid": true,
	"gclid":  true,
	"mc_cid": true,
	"mc_eid": true,
	"ref":    true,
	"source": true,
}

func isTrackingParam(key string) bool {
	return trackingParams[key] || strings.HasPrefix(key, "utm_") || key == "utm"
}

// Canonicalize normalizes a URL so trivially different forms of the same
// content compare equal: lowercased scheme and host, default ports and
// fragments dropped, tracking parameters stripped, remaining query keys
// sorted, trailing slash removed except at the root.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.User = nil

	if host, port, ok := strings.Cut(u.Host, ":"); ok {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			u.Host = host
		}
	}

	if u.Path == "" {
		u.Path = "/"
	} else if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	query := u.Query()
	keys := make([]string, 0, len(query))
	for key := range query {
		if isTrackingParam(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var rebuilt url.Values
	if len(keys) > 0 {
		rebuilt = make(url.Values, len(keys))
		for _, key := range keys {
			rebuilt[key] = query[key]
		}
	}
	u.RawQuery = rebuilt.Encode()

	return u.String(), nil
}

// Fingerprint returns the dedup key for a URL: the hex SHA-256 of its
// canonical form.
func Fingerprint(raw string) (string, error) {
	canonical, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}
