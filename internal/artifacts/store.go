// Package artifacts owns the lifecycle of processed files: registration,
// lazy preview generation, single consumption and teardown.
//
// The registry lives in memory and is guarded by one mutex; bytes live in a
// Blob backend. Slow work (moving bytes, running the preview extractor)
// happens outside the lock.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/dngdrop/internal/common"
	"github.com/dmitrijs2005/dngdrop/internal/logging"
)

// PreviewGenerator renders a JPEG preview of a local DNG file.
type PreviewGenerator interface {
	Extract(ctx context.Context, dngPath, jpgPath string) error
}

// Artifact describes one stored result.
type Artifact struct {
	Unique      string
	Owner       string
	DisplayName string
	CreatedAt   time.Time
	Size        int64
	HasPreview  bool
}

type record struct {
	Artifact
	ready bool
}

// Download streams a consumed artifact. Closing it deletes the primary file
// and any preview from the backend.
type Download struct {
	Artifact
	io.ReadCloser
}

type Store struct {
	mu      sync.Mutex
	items   map[string]*record
	blob    Blob
	workDir string
	preview PreviewGenerator
	group   singleflight.Group
	logger  logging.Logger
	now     func() time.Time
}

// NewStore builds a Store over blob. workDir is scratch space used when the
// backend is not local and a preview has to be rendered from a fetched copy.
func NewStore(blob Blob, workDir string, preview PreviewGenerator, logger logging.Logger) *Store {
	return &Store{
		items:   make(map[string]*record),
		blob:    blob,
		workDir: workDir,
		preview: preview,
		logger:  logger.With("module", "artifacts"),
		now:     time.Now,
	}
}

// PreviewKey maps "<stem>.dng" to "<stem>.jpg".
func PreviewKey(unique string) string {
	return strings.TrimSuffix(unique, filepath.Ext(unique)) + common.PreviewExt
}

// Put registers the file at primaryPath as artifact unique and takes
// ownership of it. An existing unique name is an invariant violation and
// yields common.ErrAlreadyExists.
func (s *Store) Put(ctx context.Context, unique, primaryPath, owner, displayName string) (Artifact, error) {
	s.mu.Lock()
	if _, exists := s.items[unique]; exists {
		s.mu.Unlock()
		return Artifact{}, fmt.Errorf("%w: artifact %s", common.ErrAlreadyExists, unique)
	}
	rec := &record{Artifact: Artifact{
		Unique:      unique,
		Owner:       owner,
		DisplayName: displayName,
		CreatedAt:   s.now(),
	}}
	s.items[unique] = rec
	s.mu.Unlock()

	size, err := putFile(ctx, s.blob, unique, primaryPath)
	if err != nil {
		s.mu.Lock()
		if s.items[unique] == rec {
			delete(s.items, unique)
		}
		s.mu.Unlock()
		return Artifact{}, fmt.Errorf("store %s: %w", unique, err)
	}

	s.mu.Lock()
	rec.Size = size
	rec.ready = true
	a := rec.Artifact
	s.mu.Unlock()

	s.logger.Debug(ctx, "artifact stored", "unique", unique, "owner", owner, "size", size)
	return a, nil
}

// Get returns the metadata of a ready artifact.
func (s *Store) Get(unique string) (Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[unique]
	if !ok || !rec.ready {
		return Artifact{}, fmt.Errorf("%w: artifact %s", common.ErrNotFound, unique)
	}
	return rec.Artifact, nil
}

// List returns owner's ready artifacts, oldest first.
func (s *Store) List(owner string) []Artifact {
	s.mu.Lock()
	out := make([]Artifact, 0)
	for _, rec := range s.items {
		if rec.ready && rec.Owner == owner {
			out = append(out, rec.Artifact)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Unique < out[j].Unique
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of registered artifacts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// GetPreview returns the cached preview of unique, rendering it first if
// needed. Concurrent callers for the same artifact share one rendering.
func (s *Store) GetPreview(ctx context.Context, unique string) (io.ReadCloser, int64, error) {
	a, err := s.Get(unique)
	if err != nil {
		return nil, 0, err
	}

	if !a.HasPreview {
		// The rendering outlives a caller that gives up; others may be waiting on it.
		genCtx := context.WithoutCancel(ctx)
		_, err, shared := s.group.Do(unique, func() (any, error) {
			return nil, s.generatePreview(genCtx, unique)
		})
		if err != nil {
			return nil, 0, err
		}
		if shared {
			s.logger.Debug(ctx, "preview rendering shared", "unique", unique)
		}
	}

	rc, size, err := s.blob.Open(ctx, PreviewKey(unique))
	if errors.Is(err, common.ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: preview of %s", common.ErrNotFound, unique)
	}
	return rc, size, err
}

func (s *Store) generatePreview(ctx context.Context, unique string) error {
	a, err := s.Get(unique)
	if err != nil {
		return err
	}
	if a.HasPreview {
		return nil
	}
	if s.preview == nil {
		return fmt.Errorf("%w: preview generation not configured", common.ErrPipelineFailure)
	}

	suffix, err := common.MakeRandHexString(6)
	if err != nil {
		return err
	}
	stem := strings.TrimSuffix(unique, filepath.Ext(unique))

	dngPath := ""
	if lp, ok := s.blob.(LocalPather); ok {
		dngPath = lp.LocalPath(unique)
	} else {
		dngPath = filepath.Join(s.workDir, stem+"."+suffix+common.PrimaryExt)
		if err := s.fetch(ctx, unique, dngPath); err != nil {
			return err
		}
		defer os.Remove(dngPath)
	}

	jpgPath := filepath.Join(s.workDir, stem+"."+suffix+common.PreviewExt)
	defer os.Remove(jpgPath)

	started := time.Now()
	if err := s.preview.Extract(ctx, dngPath, jpgPath); err != nil {
		return err
	}

	key := PreviewKey(unique)
	if _, err := putFile(ctx, s.blob, key, jpgPath); err != nil {
		return fmt.Errorf("store preview %s: %w", key, err)
	}

	s.mu.Lock()
	rec, ok := s.items[unique]
	if ok {
		rec.HasPreview = true
	}
	s.mu.Unlock()

	if !ok {
		// Consumed while rendering.
		return errors.Join(
			fmt.Errorf("%w: artifact %s", common.ErrNotFound, unique),
			s.blob.Delete(ctx, key),
		)
	}

	s.logger.Info(ctx, "preview generated", "unique", unique, "elapsed", time.Since(started))
	return nil
}

func (s *Store) fetch(ctx context.Context, key, dst string) error {
	rc, _, err := s.blob.Open(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Consume removes unique from the registry and returns its content. Only one
// caller can consume a given artifact; later callers get common.ErrNotFound.
// The backend files are deleted when the returned Download is closed.
func (s *Store) Consume(ctx context.Context, unique string) (*Download, error) {
	s.mu.Lock()
	rec, ok := s.items[unique]
	if !ok || !rec.ready {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: artifact %s", common.ErrNotFound, unique)
	}
	delete(s.items, unique)
	a := rec.Artifact
	s.mu.Unlock()

	rc, _, err := s.blob.Open(ctx, unique)
	if err != nil {
		s.deleteFiles(ctx, unique)
		return nil, fmt.Errorf("open %s: %w", unique, err)
	}

	return &Download{
		Artifact:   a,
		ReadCloser: &deletingReader{ReadCloser: rc, onClose: func() { s.deleteFiles(ctx, unique) }},
	}, nil
}

// Evict removes every artifact created before cutoff and returns them.
func (s *Store) Evict(ctx context.Context, cutoff time.Time) []Artifact {
	s.mu.Lock()
	var evicted []Artifact
	for unique, rec := range s.items {
		if rec.ready && rec.CreatedAt.Before(cutoff) {
			delete(s.items, unique)
			evicted = append(evicted, rec.Artifact)
		}
	}
	s.mu.Unlock()

	for _, a := range evicted {
		s.deleteFiles(ctx, a.Unique)
	}
	return evicted
}

// Reset forgets every artifact and wipes the backend.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.items = make(map[string]*record)
	s.mu.Unlock()
	return s.blob.Reset(ctx)
}

func (s *Store) deleteFiles(ctx context.Context, unique string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range []string{unique, PreviewKey(unique)} {
		if err := s.blob.Delete(ctx, key); err != nil {
			s.logger.Error(ctx, "delete artifact file", "key", key, "error", err)
		}
	}
}

type deletingReader struct {
	io.ReadCloser
	once    sync.Once
	onClose func()
}

func (d *deletingReader) Close() error {
	err := d.ReadCloser.Close()
	d.once.Do(d.onClose)
	return err
}
