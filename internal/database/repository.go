package database

import (
	"context"
)

// ImageReader provides read-only access to image metadata records
type ImageReader interface {
	// Get retrieves a record by image ID, returns ErrNotFound if missing
	Get(ctx context.Context, imageID string) (*ImageRecord, error)
	// Select returns every record matching the filters, read from a single snapshot.
	// Returns an empty slice, not an error, when nothing matches.
	Select(ctx context.Context, filters Filters) ([]ImageRecord, error)
	// Count returns the number of records stored
	Count(ctx context.Context) (int, error)
	// Oldest returns up to n records ordered by uploaded_at, then image ID, ascending
	Oldest(ctx context.Context, n int) ([]ImageRecord, error)
	// ImageIDs returns all stored image IDs in ascending order
	ImageIDs(ctx context.Context) ([]string, error)
}

// ImageWriter provides write access to image metadata records
type ImageWriter interface {
	ImageReader

	// Insert stores a new record with its face embeddings
	Insert(ctx context.Context, rec *ImageRecord) error
	// Delete removes a record and its embeddings, returns ErrNotFound if missing
	Delete(ctx context.Context, imageID string) error
}

// BlobStore holds the original image bytes keyed by image ID
type BlobStore interface {
	// Put stores (or replaces) the blob for an image
	Put(ctx context.Context, imageID string, blob Blob) error
	// Get retrieves a blob, returns ErrNotFound if missing
	Get(ctx context.Context, imageID string) (*Blob, error)
	// Delete removes a blob; deleting a missing blob is not an error
	Delete(ctx context.Context, imageID string) error
	// Has checks if a blob exists
	Has(ctx context.Context, imageID string) (bool, error)
	// Count returns the number of stored blobs
	Count(ctx context.Context) (int, error)
	// IDs returns all stored blob IDs
	IDs(ctx context.Context) ([]string, error)
}

// AdmissionLocker serializes the check-count, evict, admit sequence across processes.
type AdmissionLocker interface {
	// Lock blocks until the admission lock is held; the returned func releases it
	Lock(ctx context.Context) (unlock func(), err error)
}
