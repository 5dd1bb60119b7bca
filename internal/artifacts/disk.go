package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/dngdrop/internal/common"
	"github.com/dmitrijs2005/dngdrop/internal/filex"
)

// DiskBlob keeps artifacts as plain files in one directory.
type DiskBlob struct {
	dir string
}

func NewDiskBlob(dir string) (*DiskBlob, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return &DiskBlob{dir: abs}, nil
}

func (d *DiskBlob) Dir() string { return d.dir }

func (d *DiskBlob) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("%w: invalid artifact key %q", common.ErrValidation, key)
	}
	return filepath.Join(d.dir, key), nil
}

func (d *DiskBlob) LocalPath(key string) string {
	p, err := d.path(key)
	if err != nil {
		return ""
	}
	return p
}

func (d *DiskBlob) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	dst, err := d.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.dir, ".put-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (d *DiskBlob) PutFile(ctx context.Context, key, path string) (int64, error) {
	dst, err := d.path(key)
	if err != nil {
		return 0, err
	}
	if err := filex.MoveFile(path, dst); err != nil {
		return 0, err
	}
	fi, err := os.Stat(dst)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (d *DiskBlob) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, fmt.Errorf("%w: %s", common.ErrNotFound, key)
	}
	if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

func (d *DiskBlob) Delete(ctx context.Context, key string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (d *DiskBlob) Reset(ctx context.Context) error {
	_, err := filex.ResetDir(d.dir)
	return err
}
