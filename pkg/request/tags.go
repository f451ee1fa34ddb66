package request

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var tagCaser = cases.Fold()

// ParseTags splits a tag list. Spaces take precedence over semicolons as the
// delimiter, so "java android" and "java;android" yield the same tags.
func ParseTags(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	sep := ";"
	if strings.Contains(s, " ") {
		sep = " "
	}
	return normalizeTags(strings.Split(s, sep))
}

// NormalizeTag converts a display tag ("Google Maps") into the form the API
// expects ("google-maps").
func NormalizeTag(tag string) string {
	tag = norm.NFKC.String(strings.TrimSpace(tag))
	tag = tagCaser.String(tag)
	return strings.Join(strings.Fields(tag), "-")
}

// normalizeTags normalizes, drops empties and removes duplicates while
// keeping first-seen order.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = NormalizeTag(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
