package canonicalization

import (
	"strings"
	"unicode"
)

// NormalizeKey folds a vocabulary value into a lookup key: lowercase, with runs of spaces,
// hyphens, slashes and underscores collapsed to a single underscore.
//
// Examples:
//   - NormalizeKey("Vacant-Unrented") → "vacant_unrented"
//   - NormalizeKey(" Work  Done ")    → "work_done"
//   - NormalizeKey("Single-Family")   → "single_family"
func NormalizeKey(s string) string {
	var b strings.Builder

	b.Grow(len(s))

	pendingSep := false

	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == ' ' || r == '-' || r == '_' || r == '/':
			pendingSep = b.Len() > 0
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSep {
				b.WriteByte('_')

				pendingSep = false
			}

			b.WriteRune(unicode.ToLower(r))
		}
	}

	return b.String()
}

// NormalizeText trims and collapses internal whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeEmail lowercases and trims an email address. Values without an "@" are dropped.
func NormalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.Contains(s, "@") {
		return ""
	}

	return s
}

// NormalizePhone keeps digits and a leading "+".
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)

	var b strings.Builder

	for i, r := range s {
		if unicode.IsDigit(r) || (i == 0 && r == '+') {
			b.WriteRune(r)
		}
	}

	return b.String()
}
