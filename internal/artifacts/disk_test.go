package artifacts

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/dngdrop/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskBlob_PutOpenDelete(t *testing.T) {
	ctx := context.Background()
	b, err := NewDiskBlob(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "a.dng", strings.NewReader("hello"), 5))

	rc, size, err := b.Open(ctx, "a.dng")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello", string(data))
	assert.EqualValues(t, 5, size)

	require.NoError(t, b.Delete(ctx, "a.dng"))
	require.NoError(t, b.Delete(ctx, "a.dng"), "deleting twice is fine")

	_, _, err = b.Open(ctx, "a.dng")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDiskBlob_RejectsPathKeys(t *testing.T) {
	ctx := context.Background()
	b, err := NewDiskBlob(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", ".", "..", "../x.dng", "a/b.dng", `a\b.dng`} {
		err := b.Put(ctx, key, strings.NewReader("x"), 1)
		assert.ErrorIs(t, err, common.ErrValidation, key)
		assert.Empty(t, b.LocalPath(key), key)
	}
}

func TestDiskBlob_PutFileMovesSource(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b, err := NewDiskBlob(filepath.Join(dir, "store"))
	require.NoError(t, err)

	src := filepath.Join(dir, "work.dng")
	require.NoError(t, os.WriteFile(src, []byte("DNGDATA"), 0o600))

	size, err := b.PutFile(ctx, "x.dng", src)
	require.NoError(t, err)
	assert.EqualValues(t, 7, size)

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source should be moved")
	assert.FileExists(t, b.LocalPath("x.dng"))
}

func TestDiskBlob_Reset(t *testing.T) {
	ctx := context.Background()
	b, err := NewDiskBlob(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "a.dng", strings.NewReader("a"), 1))
	require.NoError(t, b.Put(ctx, "a.jpg", strings.NewReader("b"), 1))
	require.NoError(t, b.Reset(ctx))

	entries, err := os.ReadDir(b.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
