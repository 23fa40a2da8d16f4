package storage

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/storage/badgerblob"
	"github.com/ternarybob/colligo/internal/storage/localfs"
	"github.com/ternarybob/colligo/internal/storage/s3store"
)

// NewBlobStore creates the configured backend wrapped with transient-error
// retry. This is the only construction point for durable storage.
func NewBlobStore(ctx context.Context, cfg *common.StorageConfig, logger arbor.ILogger) (interfaces.BlobStore, error) {
	var (
		store interfaces.BlobStore
		err   error
	)

	switch cfg.Backend {
	case "local", "":
		store, err = localfs.NewStore(cfg.Local.Root, logger)
	case "s3":
		store, err = s3store.NewStore(ctx, &cfg.S3, logger)
	case "badger":
		store, err = badgerblob.NewStore(&cfg.Badger, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s blob store: %w", cfg.Backend, err)
	}

	logger.Info().Str("backend", cfg.Backend).Msg("Blob store ready")
	return WithRetry(store, cfg.MaxRetries, logger), nil
}
