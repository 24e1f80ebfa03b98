package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/database/mock"
	"github.com/kozaktomas/face-finder/internal/embedder"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/ingest"
	"github.com/kozaktomas/face-finder/internal/retention"
	"github.com/kozaktomas/face-finder/internal/search"
)

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *mock.MockBlobStore) {
	t.Helper()
	images := mock.NewMockImageStore()
	blobs := mock.NewMockBlobStore()
	extractor := embedder.NewStatic()
	mgr, err := retention.NewManager(images, blobs, cfg.Retention.MaxRecords)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return NewServer(cfg, Dependencies{
		Search:     search.NewService(images, extractor, facematch.NewScorer(facematch.Options{Threshold: 0.5}), nil),
		Ingest:     ingest.NewService(images, blobs, extractor, mgr),
		Images:     images,
		Blobs:      blobs,
		MaxRecords: mgr.MaxRecords(),
	}), blobs
}

func TestServer_Routes(t *testing.T) {
	s, blobs := newTestServer(t, config.Defaults())
	blobs.AddBlob("img-1", database.Blob{Data: []byte("bytes"), ContentType: "image/png"})

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/admin", http.StatusOK},
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/stats", http.StatusOK},
		{http.MethodGet, "/download/img-1", http.StatusOK},
		{http.MethodGet, "/get_image/img-1", http.StatusOK},
		{http.MethodGet, "/view/img-1", http.StatusOK},
		{http.MethodGet, "/view/missing", http.StatusNotFound},
		{http.MethodGet, "/search", http.StatusMethodNotAllowed},
		{http.MethodPost, "/search", http.StatusBadRequest},
		{http.MethodPost, "/upload", http.StatusBadRequest},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			s.Router().ServeHTTP(recorder, httptest.NewRequest(tc.method, tc.path, nil))
			if recorder.Code != tc.status {
				t.Errorf("expected status %d, got %d\nBody: %s", tc.status, recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestServer_Pages(t *testing.T) {
	s, _ := newTestServer(t, config.Defaults())

	tests := []struct {
		path   string
		action string
	}{
		{"/", "/search"},
		{"/admin", "/upload"},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			s.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if recorder.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", recorder.Code)
			}
			if ct := recorder.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
				t.Errorf("expected text/html content type, got %q", ct)
			}
			body := recorder.Body.String()
			if !strings.Contains(body, "<!DOCTYPE html>") {
				t.Error("expected an HTML document")
			}
			if !strings.Contains(body, "fetch('"+tc.action+"'") {
				t.Errorf("expected page to post to %s", tc.action)
			}
		})
	}
}

func TestServer_CORS(t *testing.T) {
	s, _ := newTestServer(t, config.Defaults())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.org")
	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, req)

	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected Access-Control-Allow-Origin '*', got %q", got)
	}
}

func TestServer_RateLimit(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.RateLimit = 2
	s, _ := newTestServer(t, cfg)

	var codes []int
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(""))
		req.RemoteAddr = "10.0.0.1:1234"
		recorder := httptest.NewRecorder()
		s.Router().ServeHTTP(recorder, req)
		codes = append(codes, recorder.Code)
	}

	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected third request to be rate limited, got %v", codes)
	}

	// Other endpoints are not limited
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	s.Router().ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Errorf("expected /health to stay available, got %d", recorder.Code)
	}
}

func TestServer_RateLimitDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Server.RateLimit = 0
	s, _ := newTestServer(t, cfg)

	for i := range 5 {
		recorder := httptest.NewRecorder()
		s.Router().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/search", nil))
		if recorder.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d was rate limited", i)
		}
	}
}
