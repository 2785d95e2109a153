// Package storage exposes the narrow object-store capability the collection
// pipeline persists through: list, load, save and a bucket existence probe.
// A single bucket is bound at construction; callers only deal in keys.
//
// Two implementations are provided: an S3/MinIO client for production and a
// filesystem-backed store for tests and local development.
package storage

import "context"

// ObjectStore is the durable-store capability consumed by the pipeline.
// Load of a missing key returns an *Error with CodeObjectNotFound, which
// callers detect via IsNotFound.
type ObjectStore interface {
	// List returns the keys under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Load returns the full object under key.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save stores data under key, replacing any previous object.
	Save(ctx context.Context, data []byte, key string) error

	// Remove deletes the object under key. Missing keys are not an error.
	Remove(ctx context.Context, key string) error

	// BucketExists probes the bound bucket, optionally creating it.
	BucketExists(ctx context.Context, create bool) (bool, error)
}
