// Package retention keeps the image collection under a fixed record ceiling.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/logging"
	"github.com/kozaktomas/face-finder/internal/metrics"
)

// Invalidator is notified after the store contents change.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// EvictionError reports a record that could not be evicted. The record stays
// in place and is retried by the next admission.
type EvictionError struct {
	ImageID string
	Stage   string // delete_metadata, delete_blob
	Err     error
	// Orphaned is set when the metadata was deleted, the blob delete failed
	// and restoring the metadata failed too. The blob is left for Reconcile.
	Orphaned bool
}

func (e *EvictionError) Error() string {
	return fmt.Sprintf("evict %s: %s: %v", e.ImageID, e.Stage, e.Err)
}

func (e *EvictionError) Unwrap() error {
	return e.Err
}

// AdmitResult describes what an admission did to the collection.
type AdmitResult struct {
	Evicted   []string
	Failed    []*EvictionError
	Count     int // records after the admission
	Overshoot int // records above the ceiling after the admission
}

// ReconcileResult lists inconsistencies removed by Reconcile.
type ReconcileResult struct {
	OrphanBlobs     []string // blobs without metadata
	DanglingRecords []string // metadata without a blob
}

// Manager serializes check-count, evict and admit.
type Manager struct {
	images      database.ImageWriter
	blobs       database.BlobStore
	locker      database.AdmissionLocker
	invalidator Invalidator
	maxRecords  int

	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLocker adds a cross-process lock around every admission.
func WithLocker(l database.AdmissionLocker) Option {
	return func(m *Manager) { m.locker = l }
}

// WithInvalidator registers a listener for store changes, typically the search cache.
func WithInvalidator(inv Invalidator) Option {
	return func(m *Manager) { m.invalidator = inv }
}

// NewManager creates a retention manager with the given ceiling.
func NewManager(images database.ImageWriter, blobs database.BlobStore, maxRecords int, opts ...Option) (*Manager, error) {
	if maxRecords < 1 {
		return nil, fmt.Errorf("max records must be at least 1, got %d", maxRecords)
	}
	m := &Manager{images: images, blobs: blobs, maxRecords: maxRecords}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// MaxRecords returns the ceiling.
func (m *Manager) MaxRecords() int {
	return m.maxRecords
}

// lock takes the in-process mutex and, if configured, the cross-process lock.
func (m *Manager) lock(ctx context.Context) (func(), error) {
	m.mu.Lock()
	if m.locker == nil {
		return m.mu.Unlock, nil
	}
	unlock, err := m.locker.Lock(ctx)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("acquire admission lock: %w", err)
	}
	return func() {
		unlock()
		m.mu.Unlock()
	}, nil
}

// Admit makes room for one record and then runs admit, all under the admission
// lock. The invalidator is notified once the stores have changed. Eviction
// failures do not block the admission; they are reported in the result and the
// collection may temporarily exceed the ceiling.
func (m *Manager) Admit(ctx context.Context, admit func(ctx context.Context) error) (*AdmitResult, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	count, err := m.images.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	result := &AdmitResult{}
	if count >= m.maxRecords {
		if err := m.evictOldest(ctx, count-m.maxRecords+1, result); err != nil {
			return nil, err
		}
		count -= len(result.Evicted)
	}

	if err := admit(ctx); err != nil {
		metrics.Admissions.WithLabelValues("failed").Inc()
		if len(result.Evicted) > 0 {
			m.invalidate(ctx)
		}
		result.Count = count
		return result, err
	}
	metrics.Admissions.WithLabelValues("admitted").Inc()
	m.invalidate(ctx)

	result.Count = count + 1
	m.finish(ctx, result)
	return result, nil
}

// Enforce trims the collection to the ceiling without admitting anything.
func (m *Manager) Enforce(ctx context.Context) (*AdmitResult, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	count, err := m.images.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	result := &AdmitResult{Count: count}
	if count > m.maxRecords {
		if err := m.evictOldest(ctx, count-m.maxRecords, result); err != nil {
			return nil, err
		}
		result.Count = count - len(result.Evicted)
		if len(result.Evicted) > 0 {
			m.invalidate(ctx)
		}
	}
	m.finish(ctx, result)
	return result, nil
}

func (m *Manager) finish(ctx context.Context, result *AdmitResult) {
	result.Overshoot = max(result.Count-m.maxRecords, 0)
	metrics.Records.Set(float64(result.Count))
	metrics.RetentionOvershoot.Set(float64(result.Overshoot))
	if result.Overshoot > 0 {
		logging.Ctx(ctx).Warn().
			Int("records", result.Count).
			Int("max_records", m.maxRecords).
			Int("failed_evictions", len(result.Failed)).
			Msg("record ceiling exceeded, eviction will be retried on next admission")
	}
}

// invalidate runs even when ctx is done: the stores have already changed.
func (m *Manager) invalidate(ctx context.Context) {
	if m.invalidator != nil {
		m.invalidator.Invalidate(context.WithoutCancel(ctx))
	}
}

// evictOldest evicts up to n of the oldest records.
func (m *Manager) evictOldest(ctx context.Context, n int, result *AdmitResult) error {
	victims, err := m.images.Oldest(ctx, n)
	if err != nil {
		return fmt.Errorf("select records to evict: %w", err)
	}

	for i := range victims {
		id := victims[i].ImageID
		if evErr := m.evictOne(ctx, &victims[i]); evErr != nil {
			metrics.Evictions.WithLabelValues("failure").Inc()
			ev := logging.Ctx(ctx).Error()
			if !evErr.Orphaned {
				ev = logging.Ctx(ctx).Warn()
			}
			ev.Err(evErr.Err).
				Str("image_id", id).
				Str("stage", evErr.Stage).
				Bool("orphaned", evErr.Orphaned).
				Msg("eviction failed")
			result.Failed = append(result.Failed, evErr)
			continue
		}
		metrics.Evictions.WithLabelValues("success").Inc()
		logging.Ctx(ctx).Info().Str("image_id", id).Msg("evicted record")
		result.Evicted = append(result.Evicted, id)
	}
	return nil
}

// evictOne removes a record from both stores. Metadata goes first, so a stored
// record never points at a missing blob; when the blob delete fails the record
// is inserted again.
func (m *Manager) evictOne(ctx context.Context, rec *database.ImageRecord) *EvictionError {
	err := m.images.Delete(ctx, rec.ImageID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return &EvictionError{ImageID: rec.ImageID, Stage: "delete_metadata", Err: err}
	}
	deleted := err == nil

	if err := m.blobs.Delete(ctx, rec.ImageID); err != nil {
		evErr := &EvictionError{ImageID: rec.ImageID, Stage: "delete_blob", Err: err}
		if !deleted {
			return evErr
		}
		// Restore must not be cut short by the caller's deadline.
		if rerr := m.images.Insert(context.WithoutCancel(ctx), rec); rerr != nil {
			evErr.Orphaned = true
			evErr.Err = errors.Join(err, fmt.Errorf("restore record: %w", rerr))
		}
		return evErr
	}
	return nil
}

// Reconcile removes blobs without metadata and metadata without blobs.
func (m *Manager) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	unlock, err := m.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	blobIDs, err := m.blobs.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	imageIDs, err := m.images.ImageIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	records := make(map[string]struct{}, len(imageIDs))
	for _, id := range imageIDs {
		records[id] = struct{}{}
	}
	blobs := make(map[string]struct{}, len(blobIDs))
	for _, id := range blobIDs {
		blobs[id] = struct{}{}
	}

	result := &ReconcileResult{}
	var errs []error
	for _, id := range blobIDs {
		if _, ok := records[id]; ok {
			continue
		}
		if err := m.blobs.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete orphan blob %s: %w", id, err))
			continue
		}
		result.OrphanBlobs = append(result.OrphanBlobs, id)
	}
	for _, id := range imageIDs {
		if _, ok := blobs[id]; ok {
			continue
		}
		if err := m.images.Delete(ctx, id); err != nil && !errors.Is(err, database.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete dangling record %s: %w", id, err))
			continue
		}
		result.DanglingRecords = append(result.DanglingRecords, id)
	}

	if len(result.DanglingRecords) > 0 {
		m.invalidate(ctx)
	}
	logging.Ctx(ctx).Info().
		Int("orphan_blobs", len(result.OrphanBlobs)).
		Int("dangling_records", len(result.DanglingRecords)).
		Msg("reconciled stores")
	return result, errors.Join(errs...)
}
