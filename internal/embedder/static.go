package embedder

import (
	"context"
	"sync"
)

// Static is an Extractor that returns preset embeddings keyed by image bytes.
// Unknown images yield ErrNoFaceDetected. Used by tests and offline demos.
type Static struct {
	mu    sync.RWMutex
	faces map[string][][]float32
	Err   error
	calls int
}

// NewStatic creates an empty static extractor.
func NewStatic() *Static {
	return &Static{faces: make(map[string][][]float32)}
}

// Set registers the embeddings returned for an image.
func (s *Static) Set(imageData []byte, embeddings ...[]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faces[string(imageData)] = embeddings
}

// Calls returns how many extractions were requested.
func (s *Static) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

// ExtractFaces returns the registered embeddings for imageData.
func (s *Static) ExtractFaces(ctx context.Context, imageData []byte) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	faces, ok := s.faces[string(imageData)]
	if !ok || len(faces) == 0 {
		return nil, ErrNoFaceDetected
	}
	return faces, nil
}

var _ Extractor = (*Static)(nil)
