package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
)

// ContentHash returns the hex SHA-256 of the probe bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key builds the cache key for a search:
//
//	search:{sha256}:{event}:{date}:{department}:{district}
//
// Filters are canonicalized and each segment is query-escaped, so a ':' inside
// a value cannot be confused with a separator. An unset filter is an empty
// segment; a set filter is never empty after canonicalization.
func Key(probe []byte, filters database.Filters) string {
	return KeyForHash(ContentHash(probe), filters)
}

// KeyForHash is Key for an already computed content hash.
func KeyForHash(contentHash string, filters database.Filters) string {
	f := CanonicalFilters(filters)

	var b strings.Builder
	b.WriteString(constants.SearchCachePrefix)
	b.WriteString(contentHash)
	for _, v := range []string{f.Event, f.Date, f.Department, f.District} {
		b.WriteByte(':')
		b.WriteString(url.QueryEscape(v))
	}
	return b.String()
}
