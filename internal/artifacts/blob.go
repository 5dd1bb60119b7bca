package artifacts

import (
	"context"
	"io"
	"os"
)

// Blob is where artifact bytes live. Keys are flat filenames such as
// "<stem>.dng"; implementations must be safe for concurrent use.
type Blob interface {
	// Put stores r under key, replacing anything there.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// Open returns the content of key and its size, or common.ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Reset removes every key.
	Reset(ctx context.Context) error
}

// FilePutter is implemented by backends that can take ownership of a local
// file more cheaply than streaming it.
type FilePutter interface {
	PutFile(ctx context.Context, key, path string) (int64, error)
}

// LocalPather is implemented by backends whose keys map to local files.
type LocalPather interface {
	LocalPath(key string) string
}

// putFile hands path over to b and removes it afterwards.
func putFile(ctx context.Context, b Blob, key, path string) (int64, error) {
	if fp, ok := b.(FilePutter); ok {
		return fp.PutFile(ctx, key, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if err := b.Put(ctx, key, f, fi.Size()); err != nil {
		return 0, err
	}
	f.Close()
	return fi.Size(), os.Remove(path)
}
