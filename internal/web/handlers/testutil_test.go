package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database/mock"
	"github.com/kozaktomas/face-finder/internal/embedder"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/ingest"
	"github.com/kozaktomas/face-finder/internal/retention"
	"github.com/kozaktomas/face-finder/internal/search"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return config.Defaults()
}

// testEnv wires real services over in-memory stores
type testEnv struct {
	cfg       *config.Config
	images    *mock.MockImageStore
	blobs     *mock.MockBlobStore
	extractor *embedder.Static
	ingest    *ingest.Service
	search    *search.Service
}

func newTestEnv(t *testing.T, maxRecords int) *testEnv {
	t.Helper()
	images := mock.NewMockImageStore()
	blobs := mock.NewMockBlobStore()
	extractor := embedder.NewStatic()
	mgr, err := retention.NewManager(images, blobs, maxRecords)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	scorer := facematch.NewScorer(facematch.Options{Threshold: 0.5, Dedupe: true})
	return &testEnv{
		cfg:       testConfig(),
		images:    images,
		blobs:     blobs,
		extractor: extractor,
		ingest:    ingest.NewService(images, blobs, extractor, mgr),
		search:    search.NewService(images, extractor, scorer, nil),
	}
}

// testImage returns a distinct valid PNG per seed
func testImage(t *testing.T, seed uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: seed, G: 1, B: 2, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// filePart is one file in a multipart request
type filePart struct {
	field    string
	filename string
	data     []byte
}

// multipartRequest builds a multipart POST request with form fields and files
func multipartRequest(t *testing.T, path string, fields map[string]string, files ...filePart) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.filename)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write(f.data)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result ErrorResponse
	parseJSONResponse(t, recorder, &result)
	if result.Status != statusError {
		t.Errorf("expected status 'error', got '%s'", result.Status)
	}
	if result.Message != expectedMessage {
		t.Errorf("expected message '%s', got '%s'", expectedMessage, result.Message)
	}
}
