// Package blobstore keeps original image bytes in BadgerDB, keyed by image ID.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/logging"
)

// Key prefixes for BadgerDB storage. A blob is a manifest under blob:{id}
// plus its bytes split over blobchunk:{id}/{n} keys.
const (
	blobKeyPrefix  = "blob:"
	chunkKeyPrefix = "blobchunk:"
)

// chunkSize keeps every value below badger's in-memory value limit (1 MiB).
const chunkSize = 512 << 10

// blobMeta is the manifest stored under blob:{id}.
type blobMeta struct {
	ContentType string    `json:"content_type"`
	Filename    string    `json:"filename"`
	Size        int       `json:"size"`
	Chunks      int       `json:"chunks"`
	StoredAt    time.Time `json:"stored_at"`
}

func chunkPrefix(imageID string) string {
	return chunkKeyPrefix + imageID + "/"
}

func chunkKey(imageID string, n int) []byte {
	return fmt.Appendf(nil, "%s%06d", chunkPrefix(imageID), n)
}

// withoutValue drops the hex dump badger appends to size limit errors.
func withoutValue(err error) error {
	msg := err.Error()
	if i := strings.Index(msg, " limit. "); i >= 0 {
		return errors.New(msg[:i+len(" limit")])
	}
	return err
}

// Store implements database.BlobStore on BadgerDB.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the blob database described by cfg.
func Open(cfg config.BlobConfig) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("blob store path is required")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts.Logger = logging.NewBadgerLogger("blobstore")

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return New(db), nil
}

// New wraps an already opened badger database.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close blob store: %w", err)
	}
	return nil
}

// Put stores the bytes and metadata for an image. Chunks are written first and
// the manifest last, so readers never see a partially written blob.
func (s *Store) Put(ctx context.Context, imageID string, blob database.Blob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if imageID == "" {
		return database.ErrMissingImageID
	}

	chunks := 0
	wb := s.db.NewWriteBatch()
	for off := 0; off < len(blob.Data); off += chunkSize {
		end := min(off+chunkSize, len(blob.Data))
		if err := wb.Set(chunkKey(imageID, chunks), blob.Data[off:end]); err != nil {
			wb.Cancel()
			s.deleteChunks(imageID)
			return fmt.Errorf("put blob %s: write chunk %d: %w", imageID, chunks, withoutValue(err))
		}
		chunks++
	}
	if err := wb.Flush(); err != nil {
		s.deleteChunks(imageID)
		return fmt.Errorf("put blob %s: flush chunks: %w", imageID, withoutValue(err))
	}

	meta, err := json.Marshal(blobMeta{
		ContentType: blob.ContentType,
		Filename:    blob.Filename,
		Size:        len(blob.Data),
		Chunks:      chunks,
		StoredAt:    time.Now().UTC(),
	})
	if err != nil {
		s.deleteChunks(imageID)
		return fmt.Errorf("marshal blob metadata: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(blobKeyPrefix+imageID), meta)
	})
	if err != nil {
		s.deleteChunks(imageID)
		return fmt.Errorf("put blob %s: set manifest: %w", imageID, withoutValue(err))
	}
	return nil
}

// Get retrieves a blob by image ID.
func (s *Store) Get(ctx context.Context, imageID string) (*database.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var blob database.Blob
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(blobKeyPrefix + imageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return database.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get blob manifest: %w", err)
		}
		var meta blobMeta
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
		if err != nil {
			return fmt.Errorf("decode blob manifest: %w", err)
		}

		data := make([]byte, 0, meta.Size)
		for n := range meta.Chunks {
			item, err := txn.Get(chunkKey(imageID, n))
			if err != nil {
				return fmt.Errorf("get chunk %d: %w", n, err)
			}
			err = item.Value(func(val []byte) error {
				data = append(data, val...)
				return nil
			})
			if err != nil {
				return fmt.Errorf("read chunk %d: %w", n, err)
			}
		}
		if len(data) != meta.Size {
			return fmt.Errorf("blob is %d bytes, manifest says %d", len(data), meta.Size)
		}

		blob.Data = data
		blob.ContentType = meta.ContentType
		blob.Filename = meta.Filename
		return nil
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", imageID, err)
	}
	return &blob, nil
}

// Delete removes a blob. Missing blobs are not an error.
func (s *Store) Delete(ctx context.Context, imageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(blobKeyPrefix + imageID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", imageID, err)
	}
	s.deleteChunks(imageID)
	return nil
}

// deleteChunks removes the chunk keys of a blob. Leftover chunks are
// unreachable without a manifest and are swept again on the next delete or put.
func (s *Store) deleteChunks(imageID string) {
	prefix := []byte(chunkPrefix(imageID))
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err == nil && len(keys) > 0 {
		wb := s.db.NewWriteBatch()
		for _, key := range keys {
			if err = wb.Delete(key); err != nil {
				wb.Cancel()
				break
			}
		}
		if err == nil {
			err = wb.Flush()
		}
	}
	if err != nil {
		logging.Warn().Err(err).Str("image_id", imageID).Msg("failed to delete blob chunks")
	}
}

// Has checks if a blob exists.
func (s *Store) Has(ctx context.Context, imageID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(blobKeyPrefix + imageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check blob %s: %w", imageID, err)
	}
	return found, nil
}

// Count returns the number of stored blobs.
func (s *Store) Count(ctx context.Context) (int, error) {
	ids, err := s.IDs(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// IDs returns all stored image IDs in ascending order.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(blobKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

var _ database.BlobStore = (*Store)(nil)
