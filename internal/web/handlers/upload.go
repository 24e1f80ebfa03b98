package handlers

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/kozaktomas/face-finder/internal/fingerprint"
	"github.com/kozaktomas/face-finder/internal/ingest"
	"github.com/kozaktomas/face-finder/internal/logging"
)

// Ingester admits uploaded images into the collection.
type Ingester interface {
	Ingest(ctx context.Context, item ingest.Item, meta ingest.Metadata) (*ingest.Outcome, error)
}

// UploadHandler handles image upload endpoints.
type UploadHandler struct {
	ingester Ingester
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(ingester Ingester) *UploadHandler {
	return &UploadHandler{ingester: ingester}
}

// UploadItem is the outcome for one uploaded file.
type UploadItem struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
	ImageID  string `json:"image_id,omitempty"`
	Faces    int    `json:"faces,omitempty"`
	Message  string `json:"message,omitempty"`
}

// UploadResponse is the body of a processed upload.
type UploadResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Items   []UploadItem `json:"items"`
}

// uploadedFiles returns the files sent as "image" (repeatable) or "images".
func uploadedFiles(form *multipart.Form) []*multipart.FileHeader {
	files := append([]*multipart.FileHeader{}, form.File["image"]...)
	return append(files, form.File["images"]...)
}

// Upload stores every image in the request under the same metadata. Each file
// succeeds or fails on its own; the response lists the outcome per file.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}

	form := uploadForm{
		Event:      fingerprint.Canonicalize(r.FormValue("event")),
		Date:       fingerprint.Canonicalize(r.FormValue("date")),
		Department: fingerprint.Canonicalize(r.FormValue("department")),
		District:   fingerprint.Canonicalize(r.FormValue("district")),
	}
	if err := validateForm(form); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	files := uploadedFiles(r.MultipartForm)
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no image provided")
		return
	}

	log := logging.Ctx(r.Context())
	items := make([]UploadItem, 0, len(files))
	var stored int
	var firstErr error
	for _, fh := range files {
		item := UploadItem{Filename: fh.Filename}
		outcome, err := h.ingestFile(r.Context(), fh, form)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			_, item.Message = classifyError(err)
			item.Status = statusError
			log.Warn().Err(err).Str("filename", sanitizeForLog(fh.Filename)).Msg("upload rejected")
		} else {
			stored++
			item.Status = statusSuccess
			item.ImageID = outcome.ImageID
			item.Faces = outcome.Faces
		}
		items = append(items, item)
	}

	switch {
	case stored == len(files):
		respondJSON(w, http.StatusOK, UploadResponse{
			Status:  statusSuccess,
			Message: fmt.Sprintf("uploaded %d image(s)", stored),
			Items:   items,
		})
	case stored > 0:
		respondJSON(w, http.StatusOK, UploadResponse{
			Status:  statusPartial,
			Message: fmt.Sprintf("uploaded %d of %d image(s)", stored, len(files)),
			Items:   items,
		})
	default:
		status, message := classifyError(firstErr)
		if status >= http.StatusInternalServerError {
			log.Error().Err(firstErr).Msg("upload failed")
		}
		if len(files) > 1 {
			message = "no images were stored"
		}
		respondJSON(w, status, UploadResponse{Status: statusError, Message: message, Items: items})
	}
}

func (h *UploadHandler) ingestFile(ctx context.Context, fh *multipart.FileHeader, form uploadForm) (*ingest.Outcome, error) {
	data, err := readFile(fh)
	if err != nil {
		return nil, err
	}
	return h.ingester.Ingest(ctx, ingest.Item{Filename: fh.Filename, Data: data}, form.metadata())
}
