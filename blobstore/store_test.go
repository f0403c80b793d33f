package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreLifecycle(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	data := []byte("hello world, this is a test blob")
	require.NoError(t, store.Put(ctx, "tbl/DATA/0.blk", data))
	require.NoError(t, store.Put(ctx, "tbl/table.json", []byte("{}")))
	require.NoError(t, store.Put(ctx, "other/x", []byte("x")))

	blob, err := store.Open(ctx, "tbl/DATA/0.blk")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	tail := make([]byte, 10)
	n, err = blob.ReadAt(ctx, tail, int64(len(data)-4))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, n)
	assert.Equal(t, "blob", string(tail[:n]))
	require.NoError(t, blob.Close())

	got, err := Get(ctx, store, "tbl/DATA/0.blk")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "tbl/")
	require.NoError(t, err)
	assert.Equal(t, []string{"tbl/DATA/0.blk", "tbl/table.json"}, names)

	require.NoError(t, store.Put(ctx, "tbl/table.json", []byte(`{"v":2}`)))
	got, err = Get(ctx, store, "tbl/table.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(got))

	require.NoError(t, store.Delete(ctx, "tbl/table.json"))
	require.NoError(t, store.Delete(ctx, "tbl/table.json"), "deleting a missing blob is not an error")

	_, err = store.Open(ctx, "tbl/table.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	testStoreLifecycle(t, NewMemoryStore())
}

func TestMemoryStore_PutCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("abc")
	require.NoError(t, store.Put(ctx, "a", data))
	data[0] = 'z'

	got, err := Get(ctx, store, "a")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestLocalStore(t *testing.T) {
	testStoreLifecycle(t, NewLocalStore(t.TempDir()))
}

func TestLocalStore_AtomicPut(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewLocalStore(dir)

	require.NoError(t, store.Put(ctx, "a/b.bin", []byte("v1")))
	_, err := os.Stat(filepath.Join(dir, "a", "b.bin"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "a"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files must remain")
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_Mappable(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())
	require.NoError(t, store.Put(ctx, "m", []byte("mapped")))

	blob, err := store.Open(ctx, "m")
	require.NoError(t, err)

	m, ok := blob.(Mappable)
	require.True(t, ok)
	b, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "mapped", string(b))

	require.NoError(t, blob.Close())
	_, err = blob.ReadAt(ctx, make([]byte, 1), 0)
	assert.ErrorIs(t, err, ErrClosed)
}
