package database

import (
	"time"
)

// Filters are optional equality constraints for candidate selection.
// An empty field imposes no constraint. Values are expected to be
// canonicalized (see fingerprint.Canonicalize) before they reach a store.
type Filters struct {
	Event      string `json:"event"`
	Date       string `json:"date"`
	Department string `json:"department"`
	District   string `json:"district"`
}

// Matches reports whether a record satisfies every set filter (exact, case-sensitive).
func (f Filters) Matches(rec *ImageRecord) bool {
	if f.Event != "" && rec.Event != f.Event {
		return false
	}
	if f.Date != "" && rec.Date != f.Date {
		return false
	}
	if f.Department != "" && rec.Department != f.Department {
		return false
	}
	if f.District != "" && rec.District != f.District {
		return false
	}
	return true
}

// ImageRecord is the metadata stored for one uploaded image.
// ImageID is also the key of the image bytes in the blob store.
type ImageRecord struct {
	ImageID        string
	Event          string
	Date           string
	Department     string // optional
	District       string // optional
	Filename       string
	ContentType    string
	FaceEmbeddings [][]float32 // one per detected face, never empty for persisted records
	UploadedAt     time.Time
}

// Validate checks the invariants every persisted record must satisfy.
func (r *ImageRecord) Validate() error {
	if r.ImageID == "" {
		return ErrMissingImageID
	}
	if len(r.FaceEmbeddings) == 0 {
		return ErrNoEmbeddings
	}
	dim := len(r.FaceEmbeddings[0])
	for _, emb := range r.FaceEmbeddings {
		if len(emb) == 0 || len(emb) != dim {
			return ErrDimensionMismatch
		}
	}
	return nil
}

// Blob is the original image bytes with the metadata needed to serve them.
type Blob struct {
	Data        []byte
	ContentType string
	Filename    string
}
