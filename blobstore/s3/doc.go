// Package s3 provides a blobstore.BlobStore backed by Amazon S3.
//
// Reads use HTTP range requests. Puts below the multipart threshold are sent
// with a single PutObject carrying a CRC32C checksum; larger blobs go through
// the SDK upload manager.
package s3
