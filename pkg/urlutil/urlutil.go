// Package urlutil converts between filesystem paths and file:// URLs
package urlutil

import (
	"net/url"
	"strings"
)

// FileScheme is the URL scheme of on-disk modules
const FileScheme = "file"

// NormalizePath converts backslashes to forward slashes
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// FromPath converts a filesystem path to a file:// URL
func FromPath(p string) string {
	if p == "" {
		return ""
	}
	p = NormalizePath(p)
	if !strings.HasPrefix(p, "/") {
		// Windows drive paths become file:///C:/...
		p = "/" + p
	}
	u := url.URL{Scheme: FileScheme, Path: p}
	return u.String()
}

// IsFileURL reports whether raw uses the file scheme
func IsFileURL(raw string) bool {
	return strings.HasPrefix(raw, FileScheme+"://")
}

// ToPath converts a file:// URL back to a normalized filesystem path.
// It reports false for other schemes and malformed URLs.
func ToPath(raw string) (string, bool) {
	if !IsFileURL(raw) {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	p := u.Path
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return NormalizePath(p), true
}

// Join resolves ref against base, as a browser would for module specifiers
func Join(base, ref string) (string, bool) {
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	return b.ResolveReference(r).String(), true
}
