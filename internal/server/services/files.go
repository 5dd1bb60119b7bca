package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/dngdrop/internal/artifacts"
	"github.com/dmitrijs2005/dngdrop/internal/common"
	"github.com/dmitrijs2005/dngdrop/internal/dedup"
	"github.com/dmitrijs2005/dngdrop/internal/filex"
	"github.com/dmitrijs2005/dngdrop/internal/fingerprint"
	"github.com/dmitrijs2005/dngdrop/internal/logging"
	"github.com/dmitrijs2005/dngdrop/internal/naming"
	"github.com/dmitrijs2005/dngdrop/internal/pipeline"
	"github.com/dmitrijs2005/dngdrop/internal/server/metrics"
	"github.com/dmitrijs2005/dngdrop/internal/tokens"
)

// FileStatus classifies one uploaded file.
type FileStatus string

const (
	StatusProcessed FileStatus = "processed"
	StatusSkipped   FileStatus = "skipped"
	StatusFailed    FileStatus = "failed"
)

// IncomingFile is one part of an upload request.
type IncomingFile struct {
	Filename string
	Open     func() (io.ReadCloser, error)
}

type FileResult struct {
	Original string
	Display  string
	Unique   string
	Token    string
	Status   FileStatus
	Err      error
}

type UploadResult struct {
	Files []FileResult
}

// Filter returns the results with the given status, in request order.
func (r *UploadResult) Filter(status FileStatus) []FileResult {
	var out []FileResult
	for _, f := range r.Files {
		if f.Status == status {
			out = append(out, f)
		}
	}
	return out
}

// Message summarises the upload the way clients show it.
func (r *UploadResult) Message() string {
	msg := fmt.Sprintf("processed %d file(s)", len(r.Filter(StatusProcessed)))
	if n := len(r.Filter(StatusSkipped)); n > 0 {
		msg += fmt.Sprintf(", skipped %d already processed file(s)", n)
	}
	if n := len(r.Filter(StatusFailed)); n > 0 {
		msg += fmt.Sprintf(", failed %d file(s)", n)
	}
	return msg
}

// ListedFile is a retained artifact together with a freshly issued token.
type ListedFile struct {
	artifacts.Artifact
	Token string
}

type Config struct {
	UploadDir   string
	WorkDir     string
	ArtifactTTL time.Duration
}

type Deps struct {
	Store       *artifacts.Store
	Index       *dedup.Index
	Tokens      *tokens.Registry
	Processor   pipeline.Processor
	Fingerprint *fingerprint.Fingerprinter
	Names       *naming.Allocator
	Metrics     *metrics.Metrics
	Logger      logging.Logger
}

// FileService ties the upload, listing, download and preview flows
// together. Every operation holds the read side of mu; Reset holds the
// write side and therefore never overlaps a request.
type FileService struct {
	mu sync.RWMutex

	config  Config
	store   *artifacts.Store
	index   *dedup.Index
	tokens  *tokens.Registry
	proc    pipeline.Processor
	fp      *fingerprint.Fingerprinter
	names   *naming.Allocator
	metrics *metrics.Metrics
	logger  logging.Logger
	now     func() time.Time
}

func NewFileService(cfg Config, d Deps) *FileService {
	logger := d.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	names := d.Names
	if names == nil {
		names = naming.NewAllocator()
	}
	return &FileService{
		config:  cfg,
		store:   d.Store,
		index:   d.Index,
		tokens:  d.Tokens,
		proc:    d.Processor,
		fp:      d.Fingerprint,
		names:   names,
		metrics: d.Metrics,
		logger:  logger.With("module", "files"),
		now:     time.Now,
	}
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user_id is required", common.ErrValidation)
	}
	return nil
}

// Upload runs every file through fingerprinting, deduplication and, for new
// content, the processing pipeline. The request is rejected as a whole only
// when the user is missing or no file has an allowed extension; disallowed
// files are reported as failed without touching any state. When every
// accepted file timed out the result is returned together with
// common.ErrProcessingTimeout.
func (s *FileService) Upload(ctx context.Context, userID string, files []IncomingFile) (*UploadResult, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files", common.ErrValidation)
	}
	if !slices.ContainsFunc(files, func(f IncomingFile) bool { return common.IsAllowedRawFile(f.Filename) }) {
		return nil, fmt.Errorf("%w: no file of an allowed type", common.ErrValidation)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	res := &UploadResult{Files: make([]FileResult, 0, len(files))}
	accepted, timedOut := 0, 0
	for _, f := range files {
		if !common.IsAllowedRawFile(f.Filename) {
			res.Files = append(res.Files, FileResult{
				Original: f.Filename,
				Status:   StatusFailed,
				Err:      fmt.Errorf("%w: file type not allowed: %q", common.ErrValidation, f.Filename),
			})
			s.metrics.ObserveUploadFile(metrics.OutcomeFailed, 0)
			continue
		}

		accepted++
		fr := s.uploadOne(ctx, userID, f)
		if fr.Err != nil {
			s.logger.Warn(ctx, "file failed", "user_id", userID, "file", f.Filename, "error", fr.Err)
			if errors.Is(fr.Err, common.ErrProcessingTimeout) {
				timedOut++
			}
		}
		res.Files = append(res.Files, fr)
	}

	if timedOut == accepted {
		return res, fmt.Errorf("%w: all %d file(s) timed out", common.ErrProcessingTimeout, timedOut)
	}
	return res, nil
}

func (s *FileService) uploadOne(ctx context.Context, userID string, f IncomingFile) FileResult {
	name := s.names.Allocate(userID, f.Filename)
	fr := FileResult{Original: f.Filename, Display: name.Display, Status: StatusFailed}

	spool, digest, size, err := s.spool(f, name.Working)
	if err != nil {
		fr.Err = err
		s.metrics.ObserveUploadFile(metrics.OutcomeFailed, 0)
		return fr
	}
	defer os.Remove(spool)

	r, err := s.index.RegisterIfNew(ctx, userID, digest)
	if err != nil {
		fr.Err = err
		s.metrics.ObserveUploadFile(metrics.OutcomeFailed, size)
		return fr
	}

	if r.Outcome == dedup.AlreadyProcessed {
		os.Remove(spool)
		fr.Unique = r.Unique
		if fr.Token, fr.Err = s.tokens.Issue(userID, r.Unique); fr.Err == nil {
			fr.Status = StatusSkipped
		}
		s.logger.Info(ctx, "duplicate content skipped", "user_id", userID, "unique", r.Unique)
		s.metrics.ObserveUploadFile(metrics.OutcomeSkipped, size)
		return fr
	}

	claim := r.Claim
	defer claim.Rollback()

	started := time.Now()
	output, err := s.proc.Process(ctx, spool, s.config.WorkDir)
	s.metrics.ObservePipeline(time.Since(started))
	os.Remove(spool)
	if err != nil {
		fr.Err = err
		outcome := metrics.OutcomeFailed
		if errors.Is(err, common.ErrProcessingTimeout) {
			outcome = metrics.OutcomeTimeout
		}
		s.metrics.ObserveUploadFile(outcome, size)
		return fr
	}

	unique := name.Stem + common.PrimaryExt
	if _, err := s.store.Put(ctx, unique, output, userID, name.Display); err != nil {
		os.Remove(output)
		fr.Err = err
		s.metrics.ObserveUploadFile(metrics.OutcomeFailed, size)
		return fr
	}

	if err := claim.Commit(unique); err != nil {
		fr.Err = err
		s.metrics.ObserveUploadFile(metrics.OutcomeFailed, size)
		return fr
	}

	fr.Unique = unique
	if fr.Token, fr.Err = s.tokens.Issue(userID, unique); fr.Err == nil {
		fr.Status = StatusProcessed
	}

	s.logger.Info(ctx, "file processed", "user_id", userID, "unique", unique,
		"fingerprint", digest, "elapsed", time.Since(started))
	s.metrics.ObserveUploadFile(metrics.OutcomeProcessed, size)
	return fr
}

// spool copies the upload into the upload directory while hashing it.
func (s *FileService) spool(f IncomingFile, working string) (string, string, int64, error) {
	src, err := f.Open()
	if err != nil {
		return "", "", 0, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	path := filepath.Join(s.config.UploadDir, working)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", "", 0, fmt.Errorf("%w: spool upload: %v", common.ErrInternal, err)
	}

	h := s.fp.NewHash()
	n, err := io.Copy(dst, io.TeeReader(src, h))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", "", 0, fmt.Errorf("%w: spool upload: %v", common.ErrInternal, err)
	}
	return path, s.fp.Format(h), n, nil
}

// List returns the user's retained artifacts, reissuing a token for each.
func (s *FileService) List(ctx context.Context, userID string) ([]ListedFile, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	arts := s.store.List(userID)
	out := make([]ListedFile, 0, len(arts))
	for _, a := range arts {
		tok, err := s.tokens.Issue(userID, a.Unique)
		if err != nil {
			return nil, fmt.Errorf("%w: issue token: %v", common.ErrInternal, err)
		}
		out = append(out, ListedFile{Artifact: a, Token: tok})
	}
	return out, nil
}

// Download consumes an artifact. The returned Download must be closed; that
// removes the primary file and its preview. The token is redeemed, checked
// and revoked in one step, so a token reissued concurrently by List can never
// be bypassed with the stale value.
func (s *FileService) Download(ctx context.Context, userID, unique, token string) (*artifacts.Download, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if !strings.EqualFold(filepath.Ext(unique), common.PrimaryExt) {
		return nil, fmt.Errorf("%w: invalid file type", common.ErrValidation)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.tokens.Redeem(userID, unique, token) {
		return nil, common.ErrUnauthorized
	}

	if a, err := s.store.Get(unique); err != nil {
		return nil, err
	} else if a.Owner != userID {
		return nil, fmt.Errorf("%w: artifact %s", common.ErrNotFound, unique)
	}

	d, err := s.store.Consume(ctx, unique)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "artifact consumed", "user_id", userID, "unique", unique)
	s.metrics.Downloaded()
	return d, nil
}

// Preview streams the JPEG preview of an artifact. name may be the artifact
// itself ("<stem>.dng") or its preview ("<stem>.jpg"); either way the token
// of the DNG authorizes it.
func (s *FileService) Preview(ctx context.Context, userID, name, token string) (io.ReadCloser, int64, error) {
	if err := validateUser(userID); err != nil {
		return nil, 0, err
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext != common.PrimaryExt && ext != common.PreviewExt {
		return nil, 0, fmt.Errorf("%w: invalid file type", common.ErrValidation)
	}
	unique := strings.TrimSuffix(name, filepath.Ext(name)) + common.PrimaryExt

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.tokens.Validate(userID, unique, token) {
		return nil, 0, common.ErrUnauthorized
	}

	a, err := s.store.Get(unique)
	if err != nil {
		return nil, 0, err
	}
	if a.Owner != userID {
		return nil, 0, fmt.Errorf("%w: artifact %s", common.ErrNotFound, unique)
	}

	rc, size, err := s.store.GetPreview(ctx, unique)
	if err != nil {
		return nil, 0, err
	}
	s.metrics.PreviewServed()
	return rc, size, nil
}

// Reset discards every artifact, token and dedup entry and empties the
// upload and work directories. It waits for in-flight requests to finish.
func (s *FileService) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index.Reset()
	s.tokens.Reset()

	var errs []error
	if err := s.store.Reset(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reset artifacts: %w", err))
	}
	for _, dir := range []string{s.config.UploadDir, s.config.WorkDir} {
		if _, err := filex.ResetDir(dir); err != nil {
			errs = append(errs, err)
		}
	}

	s.metrics.Reset()
	s.logger.Info(ctx, "state reset")
	return errors.Join(errs...)
}

// Sweep evicts artifacts older than the configured TTL and revokes their
// tokens. Dedup entries are kept so evicted content is still not
// reprocessed.
func (s *FileService) Sweep(ctx context.Context) int {
	if s.config.ArtifactTTL <= 0 {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	evicted := s.store.Evict(ctx, s.now().Add(-s.config.ArtifactTTL))
	for _, a := range evicted {
		s.tokens.Revoke(a.Owner, a.Unique)
	}
	if len(evicted) > 0 {
		s.logger.Info(ctx, "artifacts evicted", "count", len(evicted))
		s.metrics.Evicted(len(evicted))
	}
	return len(evicted)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *FileService) RunSweeper(ctx context.Context, interval time.Duration) {
	if s.config.ArtifactTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
