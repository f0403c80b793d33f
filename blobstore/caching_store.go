package blobstore

import (
	"context"
	"strings"

	"github.com/hupe1980/vistream/internal/cache"
)

// CachingStore wraps a BlobStore and caches whole blobs in an LRU.
// Blobs larger than the cache capacity are read through without caching.
// Put and Delete invalidate the affected entry.
type CachingStore struct {
	inner BlobStore
	cache *cache.LRU[string, []byte]
}

// NewCachingStore creates a CachingStore over inner with the given LRU.
func NewCachingStore(inner BlobStore, c *cache.LRU[string, []byte]) *CachingStore {
	return &CachingStore{inner: inner, cache: c}
}

// NewBlobCache returns an LRU sized in bytes, suitable for NewCachingStore.
func NewBlobCache(capacityBytes int64) *cache.LRU[string, []byte] {
	return cache.NewLRU[string, []byte](capacityBytes, func(b []byte) int64 { return int64(len(b)) }, nil)
}

// Open returns the cached content or reads and caches the blob.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if data, ok := s.cache.Get(name); ok {
		return &memoryBlob{data: data}, nil
	}

	b, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	data, err := ReadAll(ctx, b)
	if err != nil {
		return nil, err
	}
	s.cache.Set(name, data)
	return &memoryBlob{data: data}, nil
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// InvalidatePrefix drops every cached blob whose name has the prefix.
func (s *CachingStore) InvalidatePrefix(prefix string) {
	s.cache.Invalidate(func(key string) bool { return strings.HasPrefix(key, prefix) })
}

func (s *CachingStore) invalidate(name string) {
	s.cache.Invalidate(func(key string) bool { return key == name })
}
