// Package ingest admits uploaded images: validate, extract faces, then store
// blob and metadata under the retention lock.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/embedder"
	"github.com/kozaktomas/face-finder/internal/fingerprint"
	"github.com/kozaktomas/face-finder/internal/imaging"
	"github.com/kozaktomas/face-finder/internal/logging"
	"github.com/kozaktomas/face-finder/internal/retention"
)

var (
	// ErrTooLarge is returned for images above constants.MaxImageBytes.
	ErrTooLarge = errors.New("image exceeds maximum size")
	// ErrMissingMetadata is returned when event or date is empty after canonicalization.
	ErrMissingMetadata = errors.New("event and date are required")
)

// Metadata is the operator-supplied tagging for an upload.
type Metadata struct {
	Event      string
	Date       string
	Department string
	District   string
}

// Item is one uploaded file.
type Item struct {
	Filename string
	Data     []byte
}

// Outcome describes a successful admission.
type Outcome struct {
	ImageID   string
	Faces     int
	Retention *retention.AdmitResult
}

// Service runs the admission pipeline.
type Service struct {
	images    database.ImageWriter
	blobs     database.BlobStore
	extractor embedder.Extractor
	retention *retention.Manager
	newID     func() string
	now       func() time.Time
}

// NewService creates an ingest service.
func NewService(images database.ImageWriter, blobs database.BlobStore, extractor embedder.Extractor, mgr *retention.Manager) *Service {
	return &Service{
		images:    images,
		blobs:     blobs,
		extractor: extractor,
		retention: mgr,
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest validates and stores one image. Face extraction happens before the
// admission lock is taken, so an image without faces never causes an eviction.
func (s *Service) Ingest(ctx context.Context, item Item, meta Metadata) (*Outcome, error) {
	meta = Metadata{
		Event:      fingerprint.Canonicalize(meta.Event),
		Date:       fingerprint.Canonicalize(meta.Date),
		Department: fingerprint.Canonicalize(meta.Department),
		District:   fingerprint.Canonicalize(meta.District),
	}
	if meta.Event == "" || meta.Date == "" {
		return nil, ErrMissingMetadata
	}
	if len(item.Data) > constants.MaxImageBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(item.Data))
	}

	info, err := imaging.Sniff(item.Data)
	if err != nil {
		return nil, err
	}

	faces, err := s.extractor.ExtractFaces(ctx, item.Data)
	if err != nil {
		return nil, fmt.Errorf("extract faces: %w", err)
	}

	rec := &database.ImageRecord{
		ImageID:        s.newID(),
		Event:          meta.Event,
		Date:           meta.Date,
		Department:     meta.Department,
		District:       meta.District,
		Filename:       sanitizeFilename(item.Filename),
		ContentType:    info.ContentType,
		FaceEmbeddings: faces,
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("extracted embeddings: %w", err)
	}

	result, err := s.retention.Admit(ctx, func(ctx context.Context) error {
		return s.store(ctx, rec, item.Data)
	})
	if err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().
		Str("image_id", rec.ImageID).
		Str("event", rec.Event).
		Int("faces", len(faces)).
		Int("evicted", len(result.Evicted)).
		Msg("image admitted")

	return &Outcome{ImageID: rec.ImageID, Faces: len(faces), Retention: result}, nil
}

// store writes the blob, then the metadata. A failed metadata insert removes
// the blob again so no blob exists without its record.
func (s *Service) store(ctx context.Context, rec *database.ImageRecord, data []byte) error {
	blob := database.Blob{Data: data, ContentType: rec.ContentType, Filename: rec.Filename}
	if err := s.blobs.Put(ctx, rec.ImageID, blob); err != nil {
		return fmt.Errorf("store image: %w", err)
	}

	rec.UploadedAt = s.now()
	if err := s.images.Insert(ctx, rec); err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), rec.ImageID); derr != nil {
			logging.Ctx(ctx).Error().Err(derr).Str("image_id", rec.ImageID).
				Msg("failed to remove blob after metadata insert failure, run prune --reconcile")
		}
		return fmt.Errorf("store metadata: %w", err)
	}
	return nil
}

// sanitizeFilename keeps only the base name of a client-supplied path.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := filepath.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
