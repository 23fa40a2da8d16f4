package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// flakyStore fails a fixed number of times before succeeding
type flakyStore struct {
	failures int
	kind     models.ErrorKind
	calls    int
}

var _ interfaces.BlobStore = (*flakyStore)(nil)

func (f *flakyStore) fail() error {
	f.calls++
	if f.calls <= f.failures {
		return models.NewPipelineError(f.kind, "storage", "injected failure", nil)
	}
	return nil
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := f.fail(); err != nil {
		return "", err
	}
	return "etag", nil
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	if err := f.fail(); err != nil {
		return nil, "", err
	}
	return []byte("data"), "text/plain", nil
}

func (f *flakyStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *flakyStore) Delete(ctx context.Context, key string) error { return f.fail() }

func (f *flakyStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := f.fail(); err != nil {
		return false, err
	}
	return true, nil
}

func (f *flakyStore) Close() error { return nil }

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	inner := &flakyStore{failures: 2, kind: models.ErrKindStorageTransient}
	store := WithRetry(inner, 5, arbor.NewLogger())

	etag, err := store.Put(context.Background(), "k", []byte("x"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "etag", etag)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	inner := &flakyStore{failures: 100, kind: models.ErrKindStorageTransient}
	store := WithRetry(inner, 3, arbor.NewLogger())

	_, err := store.Put(context.Background(), "k", []byte("x"), "text/plain")
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	inner := &flakyStore{failures: 100, kind: models.ErrKindStoragePermanent}
	store := WithRetry(inner, 5, arbor.NewLogger())

	_, _, err := store.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.False(t, models.IsRetryable(err) && inner.calls > 1)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	inner := &flakyStore{failures: 100, kind: models.ErrKindStorageTransient}
	store := WithRetry(inner, 5, arbor.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Delete(ctx, "k")
	assert.True(t, errors.Is(err, context.Canceled) || inner.calls <= 1)
}
