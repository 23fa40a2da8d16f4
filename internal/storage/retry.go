package storage

import (
	"context"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

const (
	retryBaseDelay = 250 * time.Millisecond
	retryFactor    = 2
	retryMaxDelay  = 8 * time.Second
)

// retryStore decorates a BlobStore with exponential backoff on transient
// errors: base 250ms, factor 2, cap 8s. Permanent errors and not-found
// surface immediately.
type retryStore struct {
	inner       interfaces.BlobStore
	maxAttempts int
	logger      arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.BlobStore = (*retryStore)(nil)

// WithRetry wraps store so that transient failures are retried up to
// maxAttempts times
func WithRetry(store interfaces.BlobStore, maxAttempts int, logger arbor.ILogger) interfaces.BlobStore {
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &retryStore{inner: store, maxAttempts: maxAttempts, logger: logger}
}

func (r *retryStore) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := retryBaseDelay
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = fn()
		if err == nil || !models.IsRetryable(err) {
			return err
		}
		if attempt == r.maxAttempts {
			break
		}

		// Full jitter keeps concurrent retries from thundering together
		sleep := time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)
		r.logger.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", sleep).
			Msg("Transient storage error, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay *= retryFactor
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return err
}

func (r *retryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	var etag string
	err := r.retry(ctx, "put", func() error {
		var err error
		etag, err = r.inner.Put(ctx, key, data, contentType)
		return err
	})
	return etag, err
}

func (r *retryStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	var data []byte
	var contentType string
	err := r.retry(ctx, "get", func() error {
		var err error
		data, contentType, err = r.inner.Get(ctx, key)
		return err
	})
	return data, contentType, err
}

func (r *retryStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.retry(ctx, "list", func() error {
		var err error
		keys, err = r.inner.List(ctx, prefix)
		return err
	})
	return keys, err
}

func (r *retryStore) Delete(ctx context.Context, key string) error {
	return r.retry(ctx, "delete", func() error {
		return r.inner.Delete(ctx, key)
	})
}

func (r *retryStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.retry(ctx, "exists", func() error {
		var err error
		exists, err = r.inner.Exists(ctx, key)
		return err
	})
	return exists, err
}

func (r *retryStore) Close() error {
	return r.inner.Close()
}
