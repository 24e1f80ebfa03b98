package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/embedder"
	"github.com/kozaktomas/face-finder/internal/imaging"
	"github.com/kozaktomas/face-finder/internal/ingest"
	"github.com/kozaktomas/face-finder/internal/logging"
)

const (
	statusSuccess = "success"
	statusPartial = "partial"
	statusError   = "error"
)

const (
	msgNoFace      = "No face detected in image."
	msgNotFound    = "image not found"
	msgUnavailable = "service temporarily unavailable"
	msgInternal    = "internal server error"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Status: statusError, Message: message})
}

// respondServiceError maps a service error to a status code and a client-safe message.
// Internal failures are logged with their cause and reported generically.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classifyError(err)
	if status >= http.StatusInternalServerError {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", sanitizeForLog(r.URL.Path)).Msg("request failed")
	}
	respondError(w, status, message)
}

// classifyError returns the HTTP status and message for err.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, embedder.ErrNoFaceDetected):
		return http.StatusUnprocessableEntity, msgNoFace
	case errors.Is(err, imaging.ErrInvalidImage):
		return http.StatusBadRequest, "file is not a supported image"
	case errors.Is(err, ingest.ErrMissingMetadata):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ingest.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.Is(err, embedder.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, msgUnavailable
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// baseURL returns the prefix for absolute links in responses.
func baseURL(r *http.Request, public string) string {
	if public != "" {
		return strings.TrimSuffix(public, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd == "http" || fwd == "https" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
