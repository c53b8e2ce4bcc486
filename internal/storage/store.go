// Package storage provides the blob storage capability the ETL engine runs
// against: put, get and list over a slash-delimited key namespace.
package storage

import (
	"context"
	"fmt"
)

// Store is the narrow capability the engine consumes. Keys are UTF-8,
// slash-delimited hierarchical paths. Put is a full overwrite of the key;
// per-key atomicity is delegated to the backend.
type Store interface {
	// Put writes data at key, overwriting any prior content.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the blob at key. The second return is false when the key
	// is absent, which is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// List returns all keys under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// URI returns the canonical public URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: https endpoint URL.
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// Config configures the storage backend.
type Config struct {
	Backend string `yaml:"backend"` // "local" | "gcs" | "s3"

	// Local filesystem
	LocalDir string `yaml:"local_dir"`

	// GCS
	GCSBucket string `yaml:"gcs_bucket"`

	// S3 (also works for DigitalOcean Spaces, B2, R2, MinIO)
	S3Bucket   string `yaml:"s3_bucket"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Region   string `yaml:"s3_region"`

	// PublicBaseURL overrides the base of URI() for backends fronted by a
	// CDN or public edge, e.g. "https://bucket.fra1.digitaloceanspaces.com".
	PublicBaseURL string `yaml:"public_base_url"`
}

// NewStore creates a storage backend based on configuration.
func NewStore(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "local":
		if cfg.LocalDir == "" {
			return nil, fmt.Errorf("local_dir required for local backend")
		}
		return NewLocalStore(cfg.LocalDir)
	case "gcs":
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("gcs_bucket required for gcs backend")
		}
		return NewGCSStore(cfg.GCSBucket, cfg.PublicBaseURL)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3_bucket required for s3 backend")
		}
		return NewS3Store(cfg.S3Bucket, cfg.S3Endpoint, cfg.S3Region, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
