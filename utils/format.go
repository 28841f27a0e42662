package utils

import (
	"strings"

	"github.com/gosimple/slug"
	"github.com/gosimple/unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// ChallengeSlug builds a URL-safe slug from a challenge title.
func ChallengeSlug(title string) string {
	return slug.Make(title)
}

// NormalizeGameKey folds a free-form game or category name into a stable
// stats key ("street  fighter 6" and "Street Fighter 6" aggregate together).
func NormalizeGameKey(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Unknown"
	}
	return titleCaser.String(strings.ToLower(unidecode.Unidecode(name)))
}

// SanitizeDisplayName trims a self-reported display name to something safe
// to persist. Returns "" when nothing usable remains, in which case callers
// fall back to the wallet address.
func SanitizeDisplayName(name string) string {
	name = strings.TrimSpace(unidecode.Unidecode(name))
	if name == "" {
		return ""
	}
	if len(name) > 20 {
		name = name[:20]
	}
	return name
}
