package utils

import (
	"github.com/gosimple/slug"
)

// NormalizeSlug creates a URL-friendly slug using the gosimple/slug library
// This handles all Unicode characters including Turkish, European, and other languages
func NormalizeSlug(text string) string {
	if text == "" {
		return ""
	}

	return slug.Make(text)
}

// GenerateJobKey derives the stable key of a job from its name.
// "BACKUP/daily" and "backup daily" both become "backup-daily".
func GenerateJobKey(name string) string {
	return NormalizeSlug(name)
}
