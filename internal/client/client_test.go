package client

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/database/mock"
	"github.com/kozaktomas/face-finder/internal/embedder"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/ingest"
	"github.com/kozaktomas/face-finder/internal/retention"
	"github.com/kozaktomas/face-finder/internal/search"
	"github.com/kozaktomas/face-finder/internal/web"
)

func testImage(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(2, 2, color.RGBA{R: seed, G: 3, B: 4, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// setupServer runs the real HTTP stack over in-memory stores.
func setupServer(t *testing.T) (*Client, *embedder.Static) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.RateLimit = 0
	images := mock.NewMockImageStore()
	blobs := mock.NewMockBlobStore()
	extractor := embedder.NewStatic()
	mgr, err := retention.NewManager(images, blobs, 10)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	srv := web.NewServer(cfg, web.Dependencies{
		Search:     search.NewService(images, extractor, facematch.NewScorer(facematch.Options{Threshold: 0.5, Dedupe: true}), nil),
		Ingest:     ingest.NewService(images, blobs, extractor, mgr),
		Images:     images,
		Blobs:      blobs,
		MaxRecords: 10,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	c, err := New(ts.URL+"/", 5*time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, extractor
}

func TestClient_RoundTrip(t *testing.T) {
	c, extractor := setupServer(t)
	ctx := context.Background()
	data := testImage(t, 1)
	extractor.Set(data, []float32{1, 0, 0})

	up, err := c.Upload(ctx, "crowd.png", data, Metadata{Event: "Fest", Date: "2024-01-01", Department: "P", District: "N"})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if up.Status != "success" || len(up.Items) != 1 || up.Items[0].ImageID == "" {
		t.Fatalf("unexpected upload response: %+v", up)
	}
	id := up.Items[0].ImageID

	res, err := c.Search(ctx, "probe.png", data, database.Filters{Event: "Fest"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].ImageID != id || res.Matches[0].Similarity != 1 {
		t.Fatalf("unexpected matches: %+v", res.Matches)
	}
	if res.Matches[0].DownloadURL != c.URL()+"/download/"+id {
		t.Errorf("unexpected download_url %s", res.Matches[0].DownloadURL)
	}

	var buf bytes.Buffer
	ct, err := c.Download(ctx, id, &buf)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if ct != "image/png" || !bytes.Equal(buf.Bytes(), data) {
		t.Errorf("unexpected download: content type %q, %d bytes", ct, buf.Len())
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Records != 1 || stats.Blobs != 1 || stats.MaxRecords != 10 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestClient_Errors(t *testing.T) {
	c, _ := setupServer(t)
	ctx := context.Background()

	_, err := c.Download(ctx, "missing", &bytes.Buffer{})
	if !IsNotFoundError(err) {
		t.Errorf("expected not found error, got %v", err)
	}

	_, err = c.Search(ctx, "probe.png", testImage(t, 5), database.Filters{})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Message != "No face detected in image." {
		t.Errorf("unexpected error: %+v", apiErr)
	}

	_, err = c.Upload(ctx, "a.png", testImage(t, 6), Metadata{Event: "x"})
	if err == nil {
		t.Error("expected validation error for missing metadata")
	}
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := New("ftp://example.org", time.Second); err == nil {
		t.Error("expected error for non-http scheme")
	}
	c, err := New("", time.Second)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.URL() != DefaultURL {
		t.Errorf("expected default URL, got %s", c.URL())
	}
}
