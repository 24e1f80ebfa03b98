package database

import "errors"

var (
	// ErrNotFound is returned when an image record or blob does not exist
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch is returned when two embeddings of different length are compared
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNoEmbeddings is returned when a record without face embeddings is written
	ErrNoEmbeddings = errors.New("record has no face embeddings")

	// ErrMissingImageID is returned when a record without an image ID is written
	ErrMissingImageID = errors.New("record has no image ID")
)
