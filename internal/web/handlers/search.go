package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/search"
)

// Searcher answers face queries.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Result, error)
}

// SearchHandler handles face search endpoints.
type SearchHandler struct {
	config   *config.Config
	searcher Searcher
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(cfg *config.Config, searcher Searcher) *SearchHandler {
	return &SearchHandler{config: cfg, searcher: searcher}
}

// MatchResponse is one ranked match with links to the stored image.
type MatchResponse struct {
	ImageID     string  `json:"image_id"`
	Event       string  `json:"event"`
	Date        string  `json:"date"`
	Department  string  `json:"department"`
	District    string  `json:"district"`
	Similarity  float64 `json:"similarity"`
	FaceIndex   int     `json:"face_index"`
	ImageURL    string  `json:"image_url"`
	DownloadURL string  `json:"download_url"`
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Status         string          `json:"status"`
	Matches        []MatchResponse `json:"matches"`
	ProcessingTime string          `json:"processing_time"`
	Cached         bool            `json:"cached"`
}

// Search finds stored images containing the face in the uploaded "image" file.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	if !parseMultipart(w, r) {
		return
	}

	files := r.MultipartForm.File["image"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no image provided")
		return
	}
	if len(files) > 1 {
		respondError(w, http.StatusBadRequest, "search accepts exactly one image")
		return
	}

	form := searchForm{
		Event:      r.FormValue("event"),
		Date:       r.FormValue("date"),
		Department: r.FormValue("department"),
		District:   r.FormValue("district"),
	}
	if err := validateForm(form); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := readFile(files[0])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	result, err := h.searcher.Search(r.Context(), search.Query{Image: data, Filters: form.filters()})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	base := baseURL(r, h.config.Server.PublicBaseURL)
	matches := make([]MatchResponse, 0, len(result.Matches))
	for _, m := range result.Matches {
		id := url.PathEscape(m.ImageID)
		matches = append(matches, MatchResponse{
			ImageID:     m.ImageID,
			Event:       m.Event,
			Date:        m.Date,
			Department:  m.Department,
			District:    m.District,
			Similarity:  m.Similarity,
			FaceIndex:   m.FaceIndex,
			ImageURL:    base + "/get_image/" + id,
			DownloadURL: base + "/download/" + id,
		})
	}

	respondJSON(w, http.StatusOK, SearchResponse{
		Status:         statusSuccess,
		Matches:        matches,
		ProcessingTime: fmt.Sprintf("%.2f sec", result.Duration.Seconds()),
		Cached:         result.Cached,
	})
}
