package cache

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MaxKeyLength bounds a partition key in bytes.
const MaxKeyLength = 200

var keyCaser = cases.Fold()

// NormalizeKey turns a display tag ("Google Maps") into a partition key
// ("google_maps"). The result is NFKC normalized and case folded.
func NormalizeKey(tag string) string {
	tag = norm.NFKC.String(strings.TrimSpace(tag))
	tag = keyCaser.String(tag)
	return strings.Join(strings.Fields(tag), "_")
}

// ValidateKey reports whether key can name a partition.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, MaxKeyLength)
	}
	for _, r := range key {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: %q contains whitespace or control characters", ErrInvalidKey, key)
		}
	}
	return nil
}

// redisKey builds a namespaced Redis key.
// Format: stackcache:part1:part2
//
// Example:
//
//	stackcache:partition:google_maps:items
func redisKey(parts ...string) string {
	out := make([]string, 0, len(parts)+1)
	out = append(out, "stackcache")
	for _, p := range parts {
		if p = strings.Trim(p, ":"); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ":")
}
