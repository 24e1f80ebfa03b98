package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUBackend keeps entries in a size-bounded in-memory LRU with a fixed TTL.
// Per-call TTLs shorter than the LRU TTL are enforced by the envelope expiry.
type LRUBackend struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRUBackend creates an in-memory backend holding at most size entries.
func NewLRUBackend(size int, ttl time.Duration) *LRUBackend {
	if size <= 0 {
		size = 1
	}
	return &LRUBackend{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (b *LRUBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	v, ok := b.lru.Get(key)
	return v, ok, nil
}

func (b *LRUBackend) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.lru.Add(key, value)
	return nil
}

func (b *LRUBackend) Delete(ctx context.Context, key string) error {
	b.lru.Remove(key)
	return nil
}

func (b *LRUBackend) DeletePrefix(ctx context.Context, prefix string) error {
	for _, key := range b.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			b.lru.Remove(key)
		}
	}
	return nil
}

// Len returns the number of live entries.
func (b *LRUBackend) Len() int {
	return b.lru.Len()
}

func (b *LRUBackend) Close() error {
	b.lru.Purge()
	return nil
}

var _ Backend = (*LRUBackend)(nil)
