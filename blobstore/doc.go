// Package blobstore provides the object storage abstraction under the
// blob-backed visibility tables.
//
// BlobStore is the interface for reading and writing immutable named blobs
// (column blocks, table metadata). Implementations must be safe for
// concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process, for tests
//   - LocalStore: local filesystem with mmap reads and atomic writes
//   - CachingStore: LRU of whole blobs in front of any store
//   - minio.Store: MinIO and S3-compatible services
//   - s3.Store: Amazon S3 with range reads and managed uploads
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
