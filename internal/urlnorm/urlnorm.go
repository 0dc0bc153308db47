// Package urlnorm canonicalizes URLs discovered during a crawl so the
// visited registry and frontier can dedupe on a stable string form.
//
// Grounded on the teacher's normalizeURL/isValidURL in main.go, extended
// per spec.md §4.1 to strip fragments, default ports and trailing host
// dots, and collapse relative path segments.
package urlnorm

import (
	"net/url"
	"path"
	"strings"
)

// defaultPorts maps a scheme to the port implied when none is given.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize canonicalizes raw, resolving it against base when raw is
// relative. It returns "", false when raw is not a valid, admissible
// http(s) URL.
func Normalize(raw string, base string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	if !parsed.IsAbs() {
		if base == "" {
			return "", false
		}
		baseURL, err := url.Parse(base)
		if err != nil || !baseURL.IsAbs() {
			return "", false
		}
		parsed = baseURL.ResolveReference(parsed)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", false
	}

	port := parsed.Port()
	if port != "" && port == defaultPorts[scheme] {
		port = ""
	}

	escapedPath := cleanPath(parsed.EscapedPath())
	unescapedPath, err := url.PathUnescape(escapedPath)
	if err != nil {
		return "", false
	}
	normalized := &url.URL{
		Scheme:  scheme,
		User:    parsed.User,
		Path:    unescapedPath,
		RawPath: escapedPath,
	}
	if port != "" {
		normalized.Host = host + ":" + port
	} else {
		normalized.Host = host
	}
	normalized.RawQuery = parsed.RawQuery
	// Fragment is intentionally dropped: two URLs differing only in
	// fragment identify the same resource for crawl purposes.

	return normalized.String(), true
}

// cleanPath collapses "." and ".." segments and guarantees a leading
// slash, without altering percent-encoding of the remaining segments.
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "/"
	}
	if !strings.HasPrefix(cleaned, "/") {
		cleaned = "/" + cleaned
	}
	// path.Clean strips a trailing slash; restore it for anything but
	// the root so "/a/" and "/a" remain distinguishable, matching how
	// most origin servers treat them.
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(cleaned, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}
