// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-finder/internal/database"
)

// MockImageStore is an in-memory implementation of database.ImageWriter
type MockImageStore struct {
	mu      sync.RWMutex
	records map[string]*database.ImageRecord
	clock   time.Time

	// Error injection
	GetError      error
	SelectError   error
	CountError    error
	OldestError   error
	ImageIDsError error
	InsertError   error
	DeleteError   error
	// InsertErrors and DeleteErrors fail operations for specific image IDs
	InsertErrors map[string]error
	DeleteErrors map[string]error

	// Call counters
	SelectCalls int
	InsertCalls int
	DeleteCalls int
}

// NewMockImageStore creates a new mock image store
func NewMockImageStore() *MockImageStore {
	return &MockImageStore{
		records:      make(map[string]*database.ImageRecord),
		clock:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		InsertErrors: make(map[string]error),
		DeleteErrors: make(map[string]error),
	}
}

// AddRecord stores a record directly, bypassing validation and error injection.
// Records without UploadedAt get a strictly increasing timestamp.
func (m *MockImageStore) AddRecord(rec database.ImageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(&rec)
}

func (m *MockImageStore) put(rec *database.ImageRecord) {
	if rec.UploadedAt.IsZero() {
		m.clock = m.clock.Add(time.Second)
		rec.UploadedAt = m.clock
	}
	m.records[rec.ImageID] = rec
}

// SetInsertError fails Insert for one image ID (nil clears it)
func (m *MockImageStore) SetInsertError(imageID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.InsertErrors, imageID)
		return
	}
	m.InsertErrors[imageID] = err
}

// SetDeleteError fails Delete for one image ID (nil clears it)
func (m *MockImageStore) SetDeleteError(imageID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.DeleteErrors, imageID)
		return
	}
	m.DeleteErrors[imageID] = err
}

// Has reports whether a record exists
func (m *MockImageStore) Has(imageID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[imageID]
	return ok
}

// Calls returns the select, insert and delete call counts
func (m *MockImageStore) Calls() (selects, inserts, deletes int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.SelectCalls, m.InsertCalls, m.DeleteCalls
}

// Get retrieves a record by image ID
func (m *MockImageStore) Get(ctx context.Context, imageID string) (*database.ImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetError != nil {
		return nil, m.GetError
	}
	rec, ok := m.records[imageID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// Select returns records matching the filters, ordered by image ID
func (m *MockImageStore) Select(ctx context.Context, filters database.Filters) ([]database.ImageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SelectCalls++
	if m.SelectError != nil {
		return nil, m.SelectError
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := []database.ImageRecord{}
	for _, rec := range m.records {
		if filters.Matches(rec) {
			results = append(results, *rec)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ImageID < results[j].ImageID })
	return results, nil
}

// Count returns the number of records
func (m *MockImageStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.CountError != nil {
		return 0, m.CountError
	}
	return len(m.records), nil
}

// Oldest returns up to n records ordered by upload time, then image ID
func (m *MockImageStore) Oldest(ctx context.Context, n int) ([]database.ImageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.OldestError != nil {
		return nil, m.OldestError
	}

	all := make([]database.ImageRecord, 0, len(m.records))
	for _, rec := range m.records {
		all = append(all, *rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UploadedAt.Equal(all[j].UploadedAt) {
			return all[i].UploadedAt.Before(all[j].UploadedAt)
		}
		return all[i].ImageID < all[j].ImageID
	})
	if n < len(all) {
		all = all[:max(n, 0)]
	}
	return all, nil
}

// ImageIDs returns all image IDs in ascending order
func (m *MockImageStore) ImageIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ImageIDsError != nil {
		return nil, m.ImageIDsError
	}
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Insert stores a new record
func (m *MockImageStore) Insert(ctx context.Context, rec *database.ImageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertCalls++
	if m.InsertError != nil {
		return m.InsertError
	}
	if err, ok := m.InsertErrors[rec.ImageID]; ok {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	cp := *rec
	m.put(&cp)
	rec.UploadedAt = cp.UploadedAt
	return nil
}

// Delete removes a record
func (m *MockImageStore) Delete(ctx context.Context, imageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if m.DeleteError != nil {
		return m.DeleteError
	}
	if err, ok := m.DeleteErrors[imageID]; ok {
		return err
	}
	if _, ok := m.records[imageID]; !ok {
		return database.ErrNotFound
	}
	delete(m.records, imageID)
	return nil
}

// MockBlobStore is an in-memory implementation of database.BlobStore
type MockBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]database.Blob

	// Error injection
	PutError    error
	GetError    error
	DeleteError error
	HasError    error
	CountError  error
	IDsError    error
	// PutErrors and DeleteErrors fail operations for specific image IDs
	PutErrors    map[string]error
	DeleteErrors map[string]error

	// Call counters
	PutCalls    int
	DeleteCalls int
}

// NewMockBlobStore creates a new mock blob store
func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{
		blobs:        make(map[string]database.Blob),
		PutErrors:    make(map[string]error),
		DeleteErrors: make(map[string]error),
	}
}

// AddBlob stores a blob directly, bypassing error injection
func (m *MockBlobStore) AddBlob(imageID string, blob database.Blob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[imageID] = blob
}

// SetPutError fails Put for one image ID (nil clears it)
func (m *MockBlobStore) SetPutError(imageID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.PutErrors, imageID)
		return
	}
	m.PutErrors[imageID] = err
}

// SetDeleteError fails Delete for one image ID (nil clears it)
func (m *MockBlobStore) SetDeleteError(imageID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.DeleteErrors, imageID)
		return
	}
	m.DeleteErrors[imageID] = err
}

// Contains reports whether a blob exists, bypassing error injection
func (m *MockBlobStore) Contains(imageID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[imageID]
	return ok
}

// Put stores a blob
func (m *MockBlobStore) Put(ctx context.Context, imageID string, blob database.Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls++
	if m.PutError != nil {
		return m.PutError
	}
	if err, ok := m.PutErrors[imageID]; ok {
		return err
	}
	blob.Data = slices.Clone(blob.Data)
	m.blobs[imageID] = blob
	return nil
}

// Get retrieves a blob
func (m *MockBlobStore) Get(ctx context.Context, imageID string) (*database.Blob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetError != nil {
		return nil, m.GetError
	}
	blob, ok := m.blobs[imageID]
	if !ok {
		return nil, database.ErrNotFound
	}
	blob.Data = slices.Clone(blob.Data)
	return &blob, nil
}

// Delete removes a blob; missing blobs are not an error
func (m *MockBlobStore) Delete(ctx context.Context, imageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	if m.DeleteError != nil {
		return m.DeleteError
	}
	if err, ok := m.DeleteErrors[imageID]; ok {
		return err
	}
	delete(m.blobs, imageID)
	return nil
}

// Has checks if a blob exists
func (m *MockBlobStore) Has(ctx context.Context, imageID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.HasError != nil {
		return false, m.HasError
	}
	_, ok := m.blobs[imageID]
	return ok, nil
}

// Count returns the number of blobs
func (m *MockBlobStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.CountError != nil {
		return 0, m.CountError
	}
	return len(m.blobs), nil
}

// IDs returns all blob IDs in ascending order
func (m *MockBlobStore) IDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.IDsError != nil {
		return nil, m.IDsError
	}
	ids := make([]string, 0, len(m.blobs))
	for id := range m.blobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

var (
	_ database.ImageWriter = (*MockImageStore)(nil)
	_ database.BlobStore   = (*MockBlobStore)(nil)
)
