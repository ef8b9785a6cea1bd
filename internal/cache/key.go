package cache

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Descriptor identifies a cache entry. Provider and Scope partition the
// on-disk layout; Key distinguishes entries within a partition. ExpiresAt is
// optional: entries without it never expire.
type Descriptor struct {
	Scope     string     `json:"scope"`
	Provider  string     `json:"provider"`
	Key       string     `json:"key"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// WithTTL returns a copy of the descriptor that expires ttl from now.
func (d Descriptor) WithTTL(ttl time.Duration) Descriptor {
	expires := time.Now().Add(ttl)
	d.ExpiresAt = &expires
	return d
}

// relPath maps a descriptor to its location below the store root:
// <provider>/<scope>/<escaped key>.json. Provider and scope are sanitized to
// a conservative filename alphabet; the key is URL-escaped so arbitrary keys
// stay distinct and reversible.
func relPath(d Descriptor) string {
	return filepath.Join(
		sanitizeSegment(d.Provider),
		sanitizeSegment(d.Scope),
		url.QueryEscape(d.Key)+".json",
	)
}

// sanitizeSegment replaces every byte outside [A-Za-z0-9._-] with an
// underscore. Empty segments map to "default".
func sanitizeSegment(s string) string {
	if s == "" {
		return "default"
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z',
			c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9',
			c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
