package auth

import (
	"strings"

	"github.com/jordanhubbard/quizhub/internal/urlnorm"
)

// Whitelisted reports whether a normalized URL passes the publisher's
// whitelist patterns. A pattern is one of:
//
//   - "*": matches everything
//   - a full URL: prefix match after normalization
//   - a leading-"/" path: prefix match on the URL's path
//   - a bare host or host/path: treated as a prefix of host+path
//
// An empty or absent list allows all URLs.
func Whitelisted(normalizedURL string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pat := range patterns {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}
		if pat == "*" {
			return true
		}
		if matchesPattern(normalizedURL, pat) {
			return true
		}
	}
	return false
}

func matchesPattern(normalizedURL, pat string) bool {
	// Full URL pattern: normalize it and prefix-match.
	if strings.HasPrefix(pat, "http://") || strings.HasPrefix(pat, "https://") {
		if norm, err := urlnorm.Normalize(pat); err == nil {
			pat = norm
		}
		return strings.HasPrefix(normalizedURL, pat)
	}

	// Strip the scheme for host-relative comparison.
	rest := normalizedURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}

	// Path pattern: match against the path component.
	if strings.HasPrefix(pat, "/") {
		path := "/"
		if i := strings.Index(rest, "/"); i >= 0 {
			path = rest[i:]
		}
		return strings.HasPrefix(path, pat)
	}

	// Bare host or host/path prefix.
	return strings.HasPrefix(rest, pat)
}
