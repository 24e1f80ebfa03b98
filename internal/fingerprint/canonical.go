// Package fingerprint builds deterministic search cache keys from probe bytes and filters.
package fingerprint

import (
	"strings"
	"unicode"

	"github.com/kozaktomas/face-finder/internal/database"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Canonicalize normalizes a filter or metadata value: control characters are
// dropped, the text is NFC-composed and surrounding whitespace trimmed.
// Case is preserved, so matching stays case-sensitive.
func Canonicalize(s string) string {
	t := transform.Chain(runes.Remove(runes.In(unicode.Cc)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		result = norm.NFC.String(s)
	}
	return strings.TrimSpace(result)
}

// CanonicalFilters applies Canonicalize to every filter field.
// Fields that end up empty are unset.
func CanonicalFilters(f database.Filters) database.Filters {
	return database.Filters{
		Event:      Canonicalize(f.Event),
		Date:       Canonicalize(f.Date),
		Department: Canonicalize(f.Department),
		District:   Canonicalize(f.District),
	}
}
