package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, dir string, maxSizeMB int) *RenderCache {
	t.Helper()
	c, err := NewRenderCache(dir, maxSizeMB)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestRenderKeyDependsOnAllInputs(t *testing.T) {
	base := RenderKey("seg", 0, 100, 0, 200, "grayscale", 0, 1, 800, 600)

	assert.Equal(t, base, RenderKey("seg", 0, 100, 0, 200, "grayscale", 0, 1, 800, 600))
	assert.NotEqual(t, base, RenderKey("other", 0, 100, 0, 200, "grayscale", 0, 1, 800, 600))
	assert.NotEqual(t, base, RenderKey("seg", 0, 101, 0, 200, "grayscale", 0, 1, 800, 600))
	assert.NotEqual(t, base, RenderKey("seg", 0, 100, 0, 200, "viridis", 0, 1, 800, 600))
	assert.NotEqual(t, base, RenderKey("seg", 0, 100, 0, 200, "grayscale", 0, 2, 800, 600))
	assert.NotEqual(t, base, RenderKey("seg", 0, 100, 0, 200, "grayscale", 0, 1, 801, 600))
}

func TestSetAndGet(t *testing.T) {
	c := newTestCache(t, t.TempDir(), 10)

	key := RenderKey("seg", 0, 10, 0, 10, "grayscale", 0, 1, 64, 64)
	data := []byte("png bytes")
	require.NoError(t, c.Set(key, "seg", data))

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, data, got)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	c := newTestCache(t, dir, 10)
	key := RenderKey("seg", 0, 10, 0, 10, "grayscale", 0, 1, 64, 64)
	require.NoError(t, c.Set(key, "seg", []byte("persisted")))
	c.Close()

	reopened := newTestCache(t, dir, 10)
	got, ok := reopened.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("persisted"), got)
}

func TestCloseWaitsForIndexWrite(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, dir, 10)

	key := RenderKey("seg", 0, 10, 0, 10, "grayscale", 0, 1, 64, 64)
	require.NoError(t, c.Set(key, "seg", []byte("data")))
	c.Close()

	// After Close no background writer may touch the directory: the index
	// is in place and its temp file is gone
	_, err := os.Stat(filepath.Join(dir, "cache_index.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "cache_index.json.tmp"))
	assert.True(t, os.IsNotExist(err))

	// Idempotent
	c.Close()
}

func TestGetDropsEntryWhenFileMissing(t *testing.T) {
	c := newTestCache(t, t.TempDir(), 10)

	key := RenderKey("seg", 0, 10, 0, 10, "grayscale", 0, 1, 64, 64)
	require.NoError(t, c.Set(key, "seg", []byte("data")))
	require.NoError(t, os.Remove(c.filePath(key)))

	_, ok := c.Get(key)
	assert.False(t, ok)

	entries, _, _ := c.Stats()
	assert.Equal(t, 0, entries)
}

func TestInvalidateSegment(t *testing.T) {
	c := newTestCache(t, t.TempDir(), 10)

	keyA := RenderKey("segA", 0, 10, 0, 10, "grayscale", 0, 1, 64, 64)
	keyB := RenderKey("segB", 0, 10, 0, 10, "grayscale", 0, 1, 64, 64)
	require.NoError(t, c.Set(keyA, "segA", []byte("a")))
	require.NoError(t, c.Set(keyB, "segB", []byte("b")))

	c.InvalidateSegment("segA")

	_, ok := c.Get(keyA)
	assert.False(t, ok)
	_, ok = c.Get(keyB)
	assert.True(t, ok)
}

func TestEvictLRUUnderBound(t *testing.T) {
	c := newTestCache(t, t.TempDir(), 1) // 1 MB bound

	// Fill past the bound with 100 KB entries
	payload := make([]byte, 100*1024)
	keys := make([]string, 15)
	for i := range keys {
		keys[i] = RenderKey("seg", i, i+10, 0, 10, "grayscale", 0, 1, 64, 64)
		require.NoError(t, c.Set(keys[i], "seg", payload))
	}

	c.evictLRU()

	_, size, max := c.Stats()
	assert.LessOrEqual(t, size, max)

	// The most recently written entry survives
	_, ok := c.Get(keys[len(keys)-1])
	assert.True(t, ok)
}

func TestClear(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, dir, 10)

	key := RenderKey("seg", 0, 10, 0, 10, "grayscale", 0, 1, 64, 64)
	require.NoError(t, c.Set(key, "seg", []byte("data")))
	require.NoError(t, c.Clear())

	entries, size, _ := c.Stats()
	assert.Equal(t, 0, entries)
	assert.Equal(t, int64(0), size)
	_, err := os.Stat(filepath.Join(dir, key[:2], key+".png"))
	assert.True(t, os.IsNotExist(err))
}
