package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/database/mock"
)

type countingInvalidator struct{ calls atomic.Int32 }

func (c *countingInvalidator) Invalidate(context.Context) { c.calls.Add(1) }

type fixture struct {
	images *mock.MockImageStore
	blobs  *mock.MockBlobStore
	inv    *countingInvalidator
	mgr    *Manager
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, maxRecords, existing int) *fixture {
	t.Helper()
	f := &fixture{
		images: mock.NewMockImageStore(),
		blobs:  mock.NewMockBlobStore(),
		inv:    &countingInvalidator{},
	}
	for i := range existing {
		f.seed(fmt.Sprintf("img-%03d", i), base.Add(time.Duration(i)*time.Minute))
	}
	mgr, err := NewManager(f.images, f.blobs, maxRecords, WithInvalidator(f.inv))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	f.mgr = mgr
	return f
}

func (f *fixture) seed(id string, uploaded time.Time) {
	f.images.AddRecord(database.ImageRecord{ImageID: id, Event: "Fest", Date: "2024-01-01", FaceEmbeddings: [][]float32{{1, 0}}, UploadedAt: uploaded})
	f.blobs.AddBlob(id, database.Blob{Data: []byte(id), ContentType: "image/jpeg"})
}

// admitFn mimics the ingest pipeline: blob first, then metadata.
func (f *fixture) admitFn(id string, uploaded time.Time) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := f.blobs.Put(ctx, id, database.Blob{Data: []byte(id)}); err != nil {
			return err
		}
		return f.images.Insert(ctx, &database.ImageRecord{ImageID: id, FaceEmbeddings: [][]float32{{1, 0}}, UploadedAt: uploaded})
	}
}

func (f *fixture) count(t *testing.T) (records, blobs int) {
	t.Helper()
	ctx := context.Background()
	records, err := f.images.Count(ctx)
	if err != nil {
		t.Fatalf("count records: %v", err)
	}
	blobs, err = f.blobs.Count(ctx)
	if err != nil {
		t.Fatalf("count blobs: %v", err)
	}
	return records, blobs
}

func TestAdmit_EvictsOldestAtCeiling(t *testing.T) {
	f := newFixture(t, 50, 50)
	ctx := context.Background()

	result, err := f.mgr.Admit(ctx, f.admitFn("img-new", base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	if len(result.Evicted) != 1 || result.Evicted[0] != "img-000" {
		t.Errorf("expected img-000 evicted, got %v", result.Evicted)
	}
	if f.images.Has("img-000") || f.blobs.Contains("img-000") {
		t.Error("oldest record must be gone from both stores")
	}
	if !f.images.Has("img-new") || !f.blobs.Contains("img-new") {
		t.Error("new record must be present in both stores")
	}
	if records, blobs := f.count(t); records != 50 || blobs != 50 {
		t.Errorf("expected 50 records and blobs, got %d and %d", records, blobs)
	}
	if result.Count != 50 || result.Overshoot != 0 {
		t.Errorf("unexpected result %+v", result)
	}
	if f.inv.calls.Load() != 1 {
		t.Errorf("expected one invalidation, got %d", f.inv.calls.Load())
	}
}

func TestAdmit_BelowCeilingEvictsNothing(t *testing.T) {
	f := newFixture(t, 50, 10)

	result, err := f.mgr.Admit(context.Background(), f.admitFn("img-new", base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if len(result.Evicted) != 0 {
		t.Errorf("expected no evictions, got %v", result.Evicted)
	}
	if result.Count != 11 {
		t.Errorf("expected count 11, got %d", result.Count)
	}
}

func TestAdmit_OverCeilingEvictsDown(t *testing.T) {
	f := newFixture(t, 3, 6) // ceiling lowered since the records were added

	result, err := f.mgr.Admit(context.Background(), f.admitFn("img-new", base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	want := []string{"img-000", "img-001", "img-002", "img-003"}
	if fmt.Sprint(result.Evicted) != fmt.Sprint(want) {
		t.Errorf("evicted %v, want %v", result.Evicted, want)
	}
	if records, _ := f.count(t); records != 3 {
		t.Errorf("expected 3 records, got %d", records)
	}
}

func TestAdmit_TieBreaksOnImageID(t *testing.T) {
	f := newFixture(t, 2, 0)
	f.seed("b", base)
	f.seed("a", base)

	result, err := f.mgr.Admit(context.Background(), f.admitFn("c", base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if len(result.Evicted) != 1 || result.Evicted[0] != "a" {
		t.Errorf("expected a evicted on equal timestamps, got %v", result.Evicted)
	}
}

func TestAdmit_MetadataDeleteFailureKeepsBoth(t *testing.T) {
	f := newFixture(t, 3, 3)
	f.images.SetDeleteError("img-000", errors.New("metadata store down"))

	result, err := f.mgr.Admit(context.Background(), f.admitFn("img-new", base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if len(result.Failed) != 1 || result.Failed[0].Stage != "delete_metadata" || result.Failed[0].Orphaned {
		t.Fatalf("unexpected failures %+v", result.Failed)
	}
	if !f.images.Has("img-000") || !f.blobs.Contains("img-000") {
		t.Error("failed eviction must leave record and blob together")
	}
	if result.Overshoot != 1 || result.Count != 4 {
		t.Errorf("expected documented overshoot of 1, got %+v", result)
	}

	// Next admission retries and catches up.
	f.images.SetDeleteError("img-000", nil)
	result, err = f.mgr.Admit(context.Background(), f.admitFn("img-newer", base.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("second Admit failed: %v", err)
	}
	if fmt.Sprint(result.Evicted) != "[img-000 img-001]" {
		t.Errorf("expected retry to evict img-000 and img-001, got %v", result.Evicted)
	}
	if records, blobs := f.count(t); records != 3 || blobs != 3 {
		t.Errorf("expected 3/3 after retry, got %d/%d", records, blobs)
	}
}

func TestAdmit_BlobDeleteFailureRestoresRecord(t *testing.T) {
	f := newFixture(t, 2, 2)
	f.blobs.SetDeleteError("img-000", errors.New("io error"))

	result, err := f.mgr.Admit(context.Background(), f.admitFn("img-new", base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if len(result.Failed) != 1 || result.Failed[0].Stage != "delete_blob" || result.Failed[0].Orphaned {
		t.Fatalf("unexpected failures %+v", result.Failed)
	}
	if !f.images.Has("img-000") || !f.blobs.Contains("img-000") {
		t.Error("record and blob must both remain")
	}
	if !f.images.Has("img-new") {
		t.Error("admission proceeds despite eviction failure")
	}

	rec, err := f.images.Get(context.Background(), "img-000")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !rec.UploadedAt.Equal(base) || len(rec.FaceEmbeddings) != 1 {
		t.Errorf("restored record lost data: %+v", rec)
	}

	// Still the oldest, so the next admission retries it first.
	f.blobs.SetDeleteError("img-000", nil)
	result, err = f.mgr.Admit(context.Background(), f.admitFn("img-newer", base.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("second Admit failed: %v", err)
	}
	if fmt.Sprint(result.Evicted) != "[img-000 img-001]" {
		t.Errorf("expected retry to evict img-000 and img-001, got %v", result.Evicted)
	}
}

func TestAdmit_RestoreFailureLeavesBlobForReconcile(t *testing.T) {
	f := newFixture(t, 1, 1)
	f.blobs.SetDeleteError("img-000", errors.New("io error"))
	f.images.SetInsertError("img-000", errors.New("metadata store down"))

	result, err := f.mgr.Admit(context.Background(), f.admitFn("img-new", base.Add(time.Hour)))
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if len(result.Failed) != 1 || !result.Failed[0].Orphaned {
		t.Fatalf("expected orphaned failure, got %+v", result.Failed)
	}
	if f.images.Has("img-000") {
		t.Error("metadata of the evicted record must stay deleted")
	}
	if records, blobs := f.count(t); records != 1 || blobs != 2 {
		t.Errorf("expected 1 record and 2 blobs, got %d/%d", records, blobs)
	}

	f.blobs.SetDeleteError("img-000", nil)
	rec, err := f.mgr.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if fmt.Sprint(rec.OrphanBlobs) != "[img-000]" {
		t.Errorf("orphan blobs = %v", rec.OrphanBlobs)
	}
	if records, blobs := f.count(t); records != 1 || blobs != 1 {
		t.Errorf("expected 1/1, got %d/%d", records, blobs)
	}
}

func TestAdmit_EvictionDeletesMetadataFirst(t *testing.T) {
	f := newFixture(t, 1, 1)
	f.images.SetDeleteError("img-000", errors.New("metadata store down"))

	if _, err := f.mgr.Admit(context.Background(), f.admitFn("img-new", base.Add(time.Hour))); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !f.blobs.Contains("img-000") {
		t.Error("blob must not be touched when the metadata delete fails")
	}
	if _, _, deletes := f.images.Calls(); deletes != 1 {
		t.Errorf("expected one metadata delete, got %d", deletes)
	}
}

func TestAdmit_CountErrorAborts(t *testing.T) {
	f := newFixture(t, 2, 1)
	f.images.CountError = errors.New("connection refused")

	called := false
	_, err := f.mgr.Admit(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if called {
		t.Error("admission must not run when the count is unknown")
	}
}

func TestAdmit_AdmitErrorReturned(t *testing.T) {
	f := newFixture(t, 5, 1)
	wantErr := errors.New("insert failed")

	_, err := f.mgr.Admit(context.Background(), func(context.Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("expected insert error, got %v", err)
	}
	if f.inv.calls.Load() != 0 {
		t.Error("nothing changed, cache must not be invalidated")
	}
}

func TestAdmit_ConcurrentAdmissionsStayBounded(t *testing.T) {
	f := newFixture(t, 5, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("c-%03d", i)
			if _, err := f.mgr.Admit(ctx, f.admitFn(id, base.Add(time.Duration(i)*time.Second))); err != nil {
				t.Errorf("Admit %s failed: %v", id, err)
			}
			if n, _ := f.images.Count(ctx); n > 5 {
				t.Errorf("count %d exceeds ceiling", n)
			}
		}()
	}
	wg.Wait()

	if records, blobs := f.count(t); records != 5 || blobs != 5 {
		t.Errorf("expected 5/5, got %d/%d", records, blobs)
	}
}

type fakeLocker struct {
	locks, unlocks atomic.Int32
	err            error
}

func (l *fakeLocker) Lock(context.Context) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.locks.Add(1)
	return func() { l.unlocks.Add(1) }, nil
}

func TestAdmit_UsesLocker(t *testing.T) {
	locker := &fakeLocker{}
	mgr, err := NewManager(mock.NewMockImageStore(), mock.NewMockBlobStore(), 2, WithLocker(locker))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if _, err := mgr.Admit(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if locker.locks.Load() != 1 || locker.unlocks.Load() != 1 {
		t.Errorf("expected lock/unlock once, got %d/%d", locker.locks.Load(), locker.unlocks.Load())
	}

	locker.err = errors.New("lock timeout")
	if _, err := mgr.Admit(context.Background(), func(context.Context) error { return nil }); err == nil {
		t.Error("expected lock error")
	}
}

func TestEnforce(t *testing.T) {
	f := newFixture(t, 3, 5)

	result, err := f.mgr.Enforce(context.Background())
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}
	if fmt.Sprint(result.Evicted) != "[img-000 img-001]" {
		t.Errorf("unexpected evictions %v", result.Evicted)
	}
	if result.Count != 3 {
		t.Errorf("expected count 3, got %d", result.Count)
	}
	if f.inv.calls.Load() != 1 {
		t.Errorf("expected one invalidation, got %d", f.inv.calls.Load())
	}

	result, err = f.mgr.Enforce(context.Background())
	if err != nil {
		t.Fatalf("second Enforce failed: %v", err)
	}
	if len(result.Evicted) != 0 {
		t.Errorf("expected no-op, got %v", result.Evicted)
	}
}

func TestReconcile(t *testing.T) {
	f := newFixture(t, 10, 2)
	f.blobs.AddBlob("orphan", database.Blob{Data: []byte("x")})
	f.images.AddRecord(database.ImageRecord{ImageID: "dangling", FaceEmbeddings: [][]float32{{1}}})

	result, err := f.mgr.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if fmt.Sprint(result.OrphanBlobs) != "[orphan]" {
		t.Errorf("orphan blobs = %v", result.OrphanBlobs)
	}
	if fmt.Sprint(result.DanglingRecords) != "[dangling]" {
		t.Errorf("dangling records = %v", result.DanglingRecords)
	}
	if records, blobs := f.count(t); records != 2 || blobs != 2 {
		t.Errorf("expected 2/2, got %d/%d", records, blobs)
	}
}

func TestNewManager_RejectsZeroCeiling(t *testing.T) {
	if _, err := NewManager(mock.NewMockImageStore(), mock.NewMockBlobStore(), 0); err == nil {
		t.Error("expected error for zero ceiling")
	}
}
