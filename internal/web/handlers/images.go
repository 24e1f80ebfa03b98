package handlers

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/imaging"
)

// ImagesHandler serves stored image bytes.
type ImagesHandler struct {
	blobs database.BlobStore
}

// NewImagesHandler creates a new images handler.
func NewImagesHandler(blobs database.BlobStore) *ImagesHandler {
	return &ImagesHandler{blobs: blobs}
}

// Download sends the image as an attachment named after its ID.
func (h *ImagesHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(id string, blob *database.Blob) string {
		return mime.FormatMediaType("attachment", map[string]string{"filename": id + imaging.Extension(blob.ContentType)})
	})
}

// GetImage sends the image inline under its original filename.
func (h *ImagesHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, func(id string, blob *database.Blob) string {
		name := blob.Filename
		if name == "" {
			name = id + imaging.Extension(blob.ContentType)
		}
		return mime.FormatMediaType("inline", map[string]string{"filename": name})
	})
}

// View sends the raw image.
func (h *ImagesHandler) View(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, nil)
}

func (h *ImagesHandler) serve(w http.ResponseWriter, r *http.Request, disposition func(string, *database.Blob) string) {
	id := chi.URLParam(r, "image_id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "image_id is required")
		return
	}

	blob, err := h.blobs.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, fmt.Errorf("get blob %s: %w", sanitizeForLog(id), err))
		return
	}

	contentType := blob.ContentType
	if contentType == "" {
		contentType = constants.DefaultContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if disposition != nil {
		if d := disposition(id, blob); d != "" {
			w.Header().Set("Content-Disposition", d)
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write(blob.Data)
}
