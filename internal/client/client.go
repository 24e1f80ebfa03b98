// Package client talks to a running face-finder server over HTTP.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/kozaktomas/face-finder/internal/web/handlers"
)

// DefaultURL is used when no server URL is configured.
const DefaultURL = "http://localhost:5000"

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsNotFoundError returns true if the error indicates a 404 Not Found response.
func IsNotFoundError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is an HTTP client for the face-finder API
type Client struct {
	parsedURL *url.URL
	http      *http.Client
}

// New creates a client for the server at rawURL.
func New(rawURL string, timeout time.Duration) (*Client, error) {
	if rawURL == "" {
		rawURL = DefaultURL
	}
	parsed, err := url.Parse(strings.TrimSuffix(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", rawURL)
	}
	return &Client{parsedURL: parsed, http: &http.Client{Timeout: timeout}}, nil
}

// URL returns the server base URL.
func (c *Client) URL() string {
	return c.parsedURL.String()
}

// resolveURL builds a full URL from the base URL and the given path segments.
func (c *Client) resolveURL(pathSegments ...string) string {
	return c.parsedURL.JoinPath(pathSegments...).String()
}

// readError turns an error response into an APIError, using the server's
// message when the body is a JSON error.
func readError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "(could not read error body)"}
	}
	var apiErr handlers.ErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

// do sends req and returns the response when its status is 200.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readError(resp)
	}
	return resp, nil
}

// doJSON sends req and unmarshals the JSON response into the result type.
func doJSON[T any](c *Client, req *http.Request) (*T, error) {
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result T
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	return &result, nil
}

// multipartBody builds a multipart body with form fields and one file.
func multipartBody(field, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("could not write field %s: %w", key, err)
		}
	}
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("could not copy file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("could not close writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}

// postMultipart sends one file with form fields and decodes the JSON response.
func postMultipart[T any](ctx context.Context, c *Client, endpoint, filename string, data []byte, fields map[string]string) (*T, error) {
	body, contentType, err := multipartBody("image", filename, data, fields)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.resolveURL(endpoint), body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return doJSON[T](c, req)
}
