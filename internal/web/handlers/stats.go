package handlers

import (
	"fmt"
	"net/http"

	"github.com/kozaktomas/face-finder/internal/database"
	"golang.org/x/sync/errgroup"
)

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	images     database.ImageReader
	blobs      database.BlobStore
	maxRecords int
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(images database.ImageReader, blobs database.BlobStore, maxRecords int) *StatsHandler {
	return &StatsHandler{images: images, blobs: blobs, maxRecords: maxRecords}
}

// StatsResponse represents the stats response
type StatsResponse struct {
	Records    int `json:"records"`
	Blobs      int `json:"blobs"`
	MaxRecords int `json:"max_records"`
}

// Get returns collection statistics
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{MaxRecords: h.maxRecords}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		n, err := h.images.Count(ctx)
		if err != nil {
			return fmt.Errorf("count records: %w", err)
		}
		resp.Records = n
		return nil
	})
	g.Go(func() error {
		n, err := h.blobs.Count(ctx)
		if err != nil {
			return fmt.Errorf("count blobs: %w", err)
		}
		resp.Blobs = n
		return nil
	})
	if err := g.Wait(); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}
