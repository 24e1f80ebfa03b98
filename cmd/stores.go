package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-finder/internal/blobstore"
	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database/postgres"
)

// stores holds the opened metadata and blob stores.
type stores struct {
	pool   *postgres.Pool
	images *postgres.ImageRepository
	blobs  *blobstore.Store
}

// openStores connects to PostgreSQL (applying migrations) and opens the blob store.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	blobs, err := blobstore.Open(cfg.Blob)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &stores{
		pool:   pool,
		images: postgres.NewImageRepository(pool),
		blobs:  blobs,
	}, nil
}

// Close closes the blob store and the connection pool.
func (s *stores) Close() error {
	return errors.Join(s.blobs.Close(), s.pool.Close())
}
