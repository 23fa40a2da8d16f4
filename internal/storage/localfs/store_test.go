package localfs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), arbor.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	etag, err := store.Put(ctx, "job_1/input/data.json", []byte(`{"a":1}`), "application/json")
	require.NoError(t, err)
	assert.NotEmpty(t, etag)

	data, contentType, err := store.Get(ctx, "job_1/input/data.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
	assert.Equal(t, "application/json", contentType)
}

func TestPutReplacesAndChangesETag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Put(ctx, "k", []byte("one"), "text/plain")
	require.NoError(t, err)
	second, err := store.Put(ctx, "k", []byte("two"), "text/plain")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)

	data, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestGetMissingKey(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Get(context.Background(), "does/not/exist")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestListReturnsSortedKeysUnderPrefix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"job_1/b.json", "job_1/a.json", "job_2/c.json"} {
		_, err := store.Put(ctx, key, []byte("x"), "text/plain")
		require.NoError(t, err)
	}

	keys, err := store.List(ctx, "job_1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"job_1/a.json", "job_1/b.json"}, keys)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "k", []byte("x"), "text/plain")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "k"))

	exists, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExists(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exists, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Put(ctx, "k", []byte("x"), "text/plain")
	require.NoError(t, err)

	exists, err = store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPathTraversalRejected(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put(context.Background(), "../escape", []byte("x"), "text/plain")
	assert.Error(t, err)
}
