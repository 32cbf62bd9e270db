package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bqeco/bqmeta/internal/config"
)

// Open constructs the Store selected by cfg for bucket. The fs driver keeps
// each bucket in its own directory under the configured root.
func Open(ctx context.Context, cfg config.StoreConfig, bucket string) (Store, error) {
	switch cfg.Driver {
	case config.StoreGCS:
		return NewGCSStorage(ctx, bucket)
	case config.StoreS3:
		return NewS3Storage(ctx, bucket, S3Config{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.PathStyle,
		})
	case config.StoreFS:
		return NewLocalStorage(filepath.Join(cfg.FSRoot, bucket))
	case config.StoreMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
