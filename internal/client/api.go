package client

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/web/handlers"
)

// Metadata tags uploaded images.
type Metadata struct {
	Event      string
	Date       string
	Department string
	District   string
}

func (m Metadata) fields() map[string]string {
	return map[string]string{
		"event":      m.Event,
		"date":       m.Date,
		"department": m.Department,
		"district":   m.District,
	}
}

// Upload sends one image with its metadata.
func (c *Client) Upload(ctx context.Context, filename string, data []byte, meta Metadata) (*handlers.UploadResponse, error) {
	return postMultipart[handlers.UploadResponse](ctx, c, "upload", filename, data, meta.fields())
}

// Search finds stored images containing the face in data.
func (c *Client) Search(ctx context.Context, filename string, data []byte, filters database.Filters) (*handlers.SearchResponse, error) {
	fields := map[string]string{
		"event":      filters.Event,
		"date":       filters.Date,
		"department": filters.Department,
		"district":   filters.District,
	}
	return postMultipart[handlers.SearchResponse](ctx, c, "search", filename, data, fields)
}

// Stats returns the collection statistics.
func (c *Client) Stats(ctx context.Context) (*handlers.StatsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolveURL("stats"), nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	return doJSON[handlers.StatsResponse](c, req)
}

// Download streams the stored image into w and returns its content type.
func (c *Client) Download(ctx context.Context, imageID string, w io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolveURL("download", imageID), nil)
	if err != nil {
		return "", fmt.Errorf("could not create request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("could not read image: %w", err)
	}
	return resp.Header.Get("Content-Type"), nil
}
