package uri

import (
	"strconv"
	"strings"
	"unicode"
)

const maxSlugLen = 64

// Slug turns a free-form title into a valid path segment: lowercase ASCII
// letters, digits, '.', '_' and '-'. Empty results become fallback.
func Slug(title, fallback string) string {
	var b strings.Builder
	lastDash := false

	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '_':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}

		if b.Len() >= maxSlugLen {
			break
		}
	}

	s := strings.Trim(b.String(), "-.")
	if s == "" {
		return fallback
	}
	return s
}

// Unique returns name, or name-2, name-3, ... such that taken(result) is false.
func Unique(name string, taken func(string) bool) string {
	if !taken(name) {
		return name
	}

	for i := 2; ; i++ {
		candidate := name + "-" + strconv.Itoa(i)
		if !taken(candidate) {
			return candidate
		}
	}
}
