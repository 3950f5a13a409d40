package cache

import (
	"strconv"
	"strings"
	"time"
)

// CacheControlDirective represents parsed Cache-Control header directives
// from an inbound request. Used to let callers force a re-render when
// cache.honorNoCache is enabled.
type CacheControlDirective struct {
	MaxAge  *int // max-age directive value in seconds
	SMaxAge *int // s-maxage directive value in seconds (shared cache preference)
	NoCache bool // no-cache directive present
	NoStore bool // no-store directive present
	Private bool // private directive present
}

// ParseCacheControl parses a Cache-Control header string and returns
// the relevant directives for caching decisions.
//
// Format: Cache-Control: directive1, directive2=value, directive3
//
// Supported directives:
//   - max-age=<seconds>
//   - s-maxage=<seconds>
//   - no-cache
//   - no-store
//   - private
//
// Unknown directives are silently ignored.
func ParseCacheControl(header string) CacheControlDirective {
	directive := CacheControlDirective{}

	if header == "" {
		return directive
	}

	// Split by comma and process each directive
	parts := strings.Split(header, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Check for key=value directives
		if strings.Contains(part, "=") {
			kv := strings.SplitN(part, "=", 2)
			key := strings.TrimSpace(strings.ToLower(kv[0]))
			value := strings.TrimSpace(kv[1])

			switch key {
			case "max-age":
				if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
					directive.MaxAge = &seconds
				}
			case "s-maxage":
				if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
					directive.SMaxAge = &seconds
				}
			}
		} else {
			// Boolean directives
			key := strings.ToLower(part)
			switch key {
			case "no-cache":
				directive.NoCache = true
			case "no-store":
				directive.NoStore = true
			case "private":
				directive.Private = true
			}
		}
	}

	return directive
}

// WantsFresh reports whether the caller asked for a response that was not
// served from a stored copy (no-cache, or max-age=0).
func (d CacheControlDirective) WantsFresh() bool {
	if d.NoCache {
		return true
	}
	return d.MaxAge != nil && *d.MaxAge == 0
}

// NoStore is the Cache-Control value attached to render failures so
// intermediaries never keep an error page.
const NoStore = "no-store"

// PublicMaxAge formats the Cache-Control value for a served snapshot.
// Sub-second windows round down to zero.
func PublicMaxAge(window time.Duration) string {
	seconds := int(window / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	return "public, max-age=" + strconv.Itoa(seconds)
}
