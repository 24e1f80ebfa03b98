package search

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-finder/internal/cache"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/database/mock"
	"github.com/kozaktomas/face-finder/internal/embedder"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/imaging"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// pngBytes returns a distinct valid image per seed.
func pngBytes(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: seed, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type fixture struct {
	store     *mock.MockImageStore
	extractor *embedder.Static
	cache     *cache.Cache
	clock     *testClock
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := mock.NewMockImageStore()
	extractor := embedder.NewStatic()
	c := cache.New(context.Background(), cache.NewLRUBackend(100, 0), cache.WithClock(clock.Now))
	scorer := facematch.NewScorer(facematch.Options{Threshold: 0.5, Dedupe: true})
	return &fixture{
		store:     store,
		extractor: extractor,
		cache:     c,
		clock:     clock,
		svc:       NewService(store, extractor, scorer, c),
	}
}

func TestSearch_FiltersNarrowCandidates(t *testing.T) {
	f := newFixture(t)
	f.store.AddRecord(database.ImageRecord{ImageID: "fest", Event: "Fest", Date: "2024-01-01", FaceEmbeddings: [][]float32{{1, 0, 0}}})
	f.store.AddRecord(database.ImageRecord{ImageID: "other-date", Event: "Fest", Date: "2024-01-02", FaceEmbeddings: [][]float32{{1, 0, 0}}})
	f.store.AddRecord(database.ImageRecord{ImageID: "other-event", Event: "Gala", Date: "2024-01-01", FaceEmbeddings: [][]float32{{1, 0, 0}}})

	probe := pngBytes(t, 1)
	f.extractor.Set(probe, []float32{1, 0, 0})

	res, err := f.svc.Search(context.Background(), Query{
		Image:   probe,
		Filters: database.Filters{Event: "Fest", Date: " 2024-01-01 "},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].ImageID != "fest" {
		t.Fatalf("expected only fest, got %+v", res.Matches)
	}
	if res.Matches[0].Similarity != 1.0 {
		t.Errorf("expected similarity 1.0, got %v", res.Matches[0].Similarity)
	}
}

func TestSearch_CacheHitSkipsStoreUntilExpiry(t *testing.T) {
	f := newFixture(t)
	f.store.AddRecord(database.ImageRecord{ImageID: "a", Event: "Fest", Date: "2024-01-01", FaceEmbeddings: [][]float32{{1, 0}}})
	probe := pngBytes(t, 2)
	f.extractor.Set(probe, []float32{1, 0})
	ctx := context.Background()
	q := Query{Image: probe}

	first, err := f.svc.Search(ctx, q)
	if err != nil {
		t.Fatalf("first search failed: %v", err)
	}
	if first.Cached {
		t.Error("first search should not be cached")
	}

	f.clock.Advance(30 * time.Minute)
	second, err := f.svc.Search(ctx, q)
	if err != nil {
		t.Fatalf("second search failed: %v", err)
	}
	if !second.Cached {
		t.Error("second search should be served from cache")
	}
	if selects, _, _ := f.store.Calls(); selects != 1 {
		t.Errorf("expected 1 store round trip, got %d", selects)
	}
	if len(second.Matches) != len(first.Matches) || second.Matches[0] != first.Matches[0] {
		t.Errorf("cached result differs: %+v vs %+v", second.Matches, first.Matches)
	}

	f.clock.Advance(3601*time.Second - 30*time.Minute)
	third, err := f.svc.Search(ctx, q)
	if err != nil {
		t.Fatalf("third search failed: %v", err)
	}
	if third.Cached {
		t.Error("expected recompute after TTL")
	}
	if selects, _, _ := f.store.Calls(); selects != 2 {
		t.Errorf("expected 2 store round trips, got %d", selects)
	}
}

func TestSearch_InvalidationForcesRecompute(t *testing.T) {
	f := newFixture(t)
	f.store.AddRecord(database.ImageRecord{ImageID: "a", Event: "Fest", Date: "2024-01-01", FaceEmbeddings: [][]float32{{1, 0}}})
	probe := pngBytes(t, 3)
	f.extractor.Set(probe, []float32{1, 0})
	ctx := context.Background()

	if _, err := f.svc.Search(ctx, Query{Image: probe}); err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if err := f.store.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	f.cache.Invalidate(ctx)

	res, err := f.svc.Search(ctx, Query{Image: probe})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if res.Cached || len(res.Matches) != 0 {
		t.Errorf("expected fresh empty result after eviction, got cached=%v %+v", res.Cached, res.Matches)
	}
}

func TestSearch_NoFaceCached(t *testing.T) {
	f := newFixture(t)
	probe := pngBytes(t, 4)
	ctx := context.Background()

	for range 2 {
		_, err := f.svc.Search(ctx, Query{Image: probe})
		if !errors.Is(err, embedder.ErrNoFaceDetected) {
			t.Fatalf("expected ErrNoFaceDetected, got %v", err)
		}
	}
	if f.extractor.Calls() != 1 {
		t.Errorf("expected cached no-face outcome, extractor calls = %d", f.extractor.Calls())
	}

	// A different image is not shadowed by the cached outcome.
	other := pngBytes(t, 40)
	f.extractor.Set(other, []float32{1, 0})
	if _, err := f.svc.Search(ctx, Query{Image: other}); err != nil {
		t.Errorf("expected search of another image to succeed, got %v", err)
	}

	f.clock.Advance(time.Hour + time.Second)
	if _, err := f.svc.Search(ctx, Query{Image: probe}); !errors.Is(err, embedder.ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected after expiry, got %v", err)
	}
	if f.extractor.Calls() != 3 {
		t.Errorf("expected expired no-face outcome to be recomputed, extractor calls = %d", f.extractor.Calls())
	}
}

func TestSearch_InvalidImage(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Search(context.Background(), Query{Image: []byte("not an image")})
	if !errors.Is(err, imaging.ErrInvalidImage) {
		t.Errorf("expected ErrInvalidImage, got %v", err)
	}
}

func TestSearch_StoreErrorNotCached(t *testing.T) {
	f := newFixture(t)
	probe := pngBytes(t, 5)
	f.extractor.Set(probe, []float32{1, 0})
	f.store.SelectError = errors.New("connection refused")
	ctx := context.Background()

	if _, err := f.svc.Search(ctx, Query{Image: probe}); err == nil {
		t.Fatal("expected store error")
	}

	f.store.SelectError = nil
	res, err := f.svc.Search(ctx, Query{Image: probe})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if res.Cached {
		t.Error("failed computation must not be cached")
	}
}

func TestSearch_CancelledCaller(t *testing.T) {
	f := newFixture(t)
	probe := pngBytes(t, 6)
	f.extractor.Set(probe, []float32{1, 0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.svc.Search(ctx, Query{Image: probe}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSearch_WithoutCache(t *testing.T) {
	store := mock.NewMockImageStore()
	store.AddRecord(database.ImageRecord{ImageID: "a", FaceEmbeddings: [][]float32{{1, 0}}})
	extractor := embedder.NewStatic()
	probe := pngBytes(t, 7)
	extractor.Set(probe, []float32{1, 0})

	svc := NewService(store, extractor, facematch.NewScorer(facematch.Options{Threshold: 0.5}), nil)
	res, err := svc.Search(context.Background(), Query{Image: probe})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(res.Matches) != 1 {
		t.Errorf("expected 1 match, got %d", len(res.Matches))
	}
}
