// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Search constants
const (
	// DefaultSimilarityThreshold is the minimum cosine similarity for a face to count as a match
	DefaultSimilarityThreshold = 0.50

	// SimilarityDecimals is the number of decimal places similarity scores are rounded to
	SimilarityDecimals = 4

	// DefaultScoreConcurrency is the default number of parallel scoring workers
	DefaultScoreConcurrency = 4
)

// Cache constants
const (
	// SearchCacheTTL is how long a cached search result stays valid
	SearchCacheTTL = time.Hour

	// SearchCachePrefix prefixes every search cache key
	SearchCachePrefix = "search:"

	// DefaultCacheEntries is the capacity of the in-memory cache backend
	DefaultCacheEntries = 10000
)

// Retention constants
const (
	// DefaultMaxRecords is the default retention ceiling
	DefaultMaxRecords = 50
)

// File upload constants
const (
	// MaxUploadSize is the maximum multipart request size in bytes (32MB)
	MaxUploadSize = 32 << 20

	// MaxImageBytes is the largest single image accepted for ingestion or search
	MaxImageBytes = 20 << 20
)

// Default content type for stored images when none could be detected
const DefaultContentType = "image/jpeg"
