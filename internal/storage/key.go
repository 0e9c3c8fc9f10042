package storage

import (
	"strings"
	"time"
	"unicode"
)

// VideoKey builds the object key for one video:
//
//	videos/<YYYY>/<MM>/<externalID>_<safeTitle>.<ext>
//
// The title is reduced to letters, digits, spaces, dashes and underscores,
// spaces become underscores, and the result is capped at 50 runes. An empty
// title falls back to "untitled"; an empty extension to "mp4".
func VideoKey(externalID, title, ext string, now time.Time) string {
	safe := sanitizeTitle(title)
	if safe == "" {
		safe = "untitled"
	}

	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "mp4"
	}

	var b strings.Builder
	b.WriteString("videos/")
	b.WriteString(now.Format("2006/01"))
	b.WriteString("/")
	b.WriteString(externalID)
	b.WriteString("_")
	b.WriteString(safe)
	b.WriteString(".")
	b.WriteString(ext)
	return b.String()
}

func sanitizeTitle(title string) string {
	var kept []rune
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			kept = append(kept, r)
		}
	}
	s := strings.TrimRight(string(kept), " ")
	s = strings.ReplaceAll(s, " ", "_")
	if len([]rune(s)) > 50 {
		s = string([]rune(s)[:50])
	}
	return s
}
