// Package minio provides a blobstore.BlobStore for MinIO and other
// S3-compatible object stores, using minio-go.
//
//	client, _ := minio.New("localhost:9000", &minio.Options{...})
//	store := vsminio.NewStore(client, "visibilities", "obs-001/")
package minio
