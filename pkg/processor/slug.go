package processor

import (
	"strings"
	"unicode"
)

// maxSlugLen caps generated slugs. Collision suffixes stay within the cap.
const maxSlugLen = 60

// Slugify kebab-cases a title into a URL slug of at most maxSlugLen chars.
// Non-alphanumeric runs collapse to single hyphens; truncation lands on a
// word boundary when one exists.
func Slugify(title string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
		if idx := strings.LastIndexByte(slug, '-'); idx > maxSlugLen/2 {
			slug = slug[:idx]
		}
	}
	if slug == "" {
		slug = "untitled"
	}
	return slug
}

// CollisionSlug appends a short topic-hash suffix so two distinct topics
// with the same title get distinct paths.
func CollisionSlug(slug, topicID string) string {
	suffix := topicID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	base := slug
	if len(base) > maxSlugLen-len(suffix)-1 {
		base = strings.TrimRight(base[:maxSlugLen-len(suffix)-1], "-")
	}
	return base + "-" + suffix
}
