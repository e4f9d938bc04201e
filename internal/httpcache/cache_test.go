package httpcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) (*Cache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, path
}

func TestCache_GetMissing(t *testing.T) {
	c, _ := openTestCache(t)

	_, ok, err := c.Get(context.Background(), "https://example.test/pkg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_PutGet(t *testing.T) {
	c, _ := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "https://example.test/pkg", []byte(`{"a": 1}`)))

	body, ok, err := c.Get(ctx, "https://example.test/pkg")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"a": 1}`, string(body))
}

func TestCache_PutReplaces(t *testing.T) {
	c, _ := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "u", []byte("old")))
	require.NoError(t, c.Put(ctx, "u", []byte("new")))

	body, ok, err := c.Get(ctx, "u")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", string(body))

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCache_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "u", []byte("kept")))
	require.NoError(t, c.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	body, ok, err := reopened.Get(ctx, "u")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "kept", string(body))
}
