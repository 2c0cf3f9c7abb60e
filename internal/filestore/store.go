// Package filestore defines the object storage contract fillers use as an
// artifact source.
//
// Providers (MinIO today) implement Store. Fillers depend only on this
// package, never on a provider package.
//
// Usage:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	info, err := store.Download(ctx, "datasets", "2024/communes.zip", "/data/communes.zip")
package filestore

import "context"

// Store is the interface all object storage providers implement.
type Store interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources.
	Close() error

	// ListObjects returns the objects in bucket that match opts.
	ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]ObjectInfo, error)

	// StatObject returns metadata for the object at key without downloading it.
	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// Download writes the object at key to the local file at path, creating
	// parent directories as needed, and returns its metadata.
	Download(ctx context.Context, bucket, key, path string) (*ObjectInfo, error)
}
