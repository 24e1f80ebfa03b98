// Package imaging validates uploaded image bytes and maps formats to content types.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrInvalidImage is returned for empty, truncated or unsupported image data.
var ErrInvalidImage = errors.New("invalid image")

var contentTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
	"webp": "image/webp",
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
	"image/webp": ".webp",
}

// Info describes a decoded image header.
type Info struct {
	ContentType string
	Width       int
	Height      int
}

// Sniff decodes the image header and reports its format and dimensions.
// Only the header is read; pixel data is not decoded.
func Sniff(data []byte) (*Info, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero dimensions", ErrInvalidImage)
	}

	ct, ok := contentTypes[format]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported format %s", ErrInvalidImage, format)
	}
	return &Info{ContentType: ct, Width: cfg.Width, Height: cfg.Height}, nil
}

// DetectContentType returns the image content type, falling back to
// net/http sniffing for data that is not a supported image.
func DetectContentType(data []byte) string {
	if info, err := Sniff(data); err == nil {
		return info.ContentType
	}
	return http.DetectContentType(data)
}

// Extension returns the file extension for a content type, ".jpg" when unknown.
func Extension(contentType string) string {
	if ext, ok := extensions[contentType]; ok {
		return ext
	}
	return ".jpg"
}
