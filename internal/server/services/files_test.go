package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/dngdrop/internal/artifacts"
	"github.com/dmitrijs2005/dngdrop/internal/common"
	"github.com/dmitrijs2005/dngdrop/internal/dedup"
	"github.com/dmitrijs2005/dngdrop/internal/fingerprint"
	"github.com/dmitrijs2005/dngdrop/internal/logging"
	"github.com/dmitrijs2005/dngdrop/internal/tokens"
)

// fakeProcessor writes "<stem>.dng" containing "DNG:" + input bytes.
type fakeProcessor struct {
	calls atomic.Int32
	delay time.Duration
	fail  atomic.Pointer[error]
}

func (p *fakeProcessor) Process(ctx context.Context, inputPath, outputDir string) (string, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: convert: %v", common.ErrProcessingTimeout, ctx.Err())
		}
	}
	if e := p.fail.Load(); e != nil {
		return "", *e
	}
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", err
	}
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	out := filepath.Join(outputDir, stem+common.PrimaryExt)
	return out, os.WriteFile(out, append([]byte("DNG:"), data...), 0o600)
}

func (p *fakeProcessor) failWith(err error) {
	if err == nil {
		p.fail.Store(nil)
		return
	}
	p.fail.Store(&err)
}

type fakePreview struct {
	calls atomic.Int32
}

func (f *fakePreview) Extract(ctx context.Context, dngPath, jpgPath string) error {
	f.calls.Add(1)
	data, err := os.ReadFile(dngPath)
	if err != nil {
		return err
	}
	return os.WriteFile(jpgPath, append([]byte("JPG:"), data...), 0o600)
}

type fixture struct {
	svc     *FileService
	proc    *fakeProcessor
	preview *fakePreview
	blob    *artifacts.DiskBlob
	root    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	upload := filepath.Join(root, "upload")
	work := filepath.Join(root, "work")
	for _, d := range []string{upload, work} {
		require.NoError(t, os.MkdirAll(d, 0o700))
	}

	blob, err := artifacts.NewDiskBlob(filepath.Join(root, "output"))
	require.NoError(t, err)

	pv := &fakePreview{}
	store := artifacts.NewStore(blob, work, pv, logging.Nop())

	reg, err := tokens.NewRegistry([]byte("test-secret"))
	require.NoError(t, err)

	fp, err := fingerprint.New("")
	require.NoError(t, err)

	proc := &fakeProcessor{}
	svc := NewFileService(Config{UploadDir: upload, WorkDir: work}, Deps{
		Store:       store,
		Index:       dedup.NewIndex(),
		Tokens:      reg,
		Processor:   proc,
		Fingerprint: fp,
		Logger:      logging.Nop(),
	})

	return &fixture{svc: svc, proc: proc, preview: pv, blob: blob, root: root}
}

func file(name, content string) IncomingFile {
	return IncomingFile{
		Filename: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func readClose(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	return string(data)
}

func dirEmpty(t *testing.T, dir string) bool {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries) == 0
}

func TestUpload_ProcessThenDownloadOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Upload(ctx, "user_42", []IncomingFile{file("photo.CR2", "rawbytes")})
	require.NoError(t, err)
	require.Len(t, res.Files, 1)

	fr := res.Files[0]
	require.NoError(t, fr.Err)
	assert.Equal(t, StatusProcessed, fr.Status)
	assert.Equal(t, "photo.dng", fr.Display)
	assert.True(t, strings.HasPrefix(fr.Unique, "user_42_"))
	assert.True(t, strings.HasSuffix(fr.Unique, "_photo.dng"))
	assert.NotEmpty(t, fr.Token)
	assert.Equal(t, "processed 1 file(s)", res.Message())
	assert.True(t, dirEmpty(t, filepath.Join(f.root, "upload")), "upload spool removed")

	d, err := f.svc.Download(ctx, "user_42", fr.Unique, fr.Token)
	require.NoError(t, err)
	assert.Equal(t, "photo.dng", d.DisplayName)
	assert.Equal(t, "DNG:rawbytes", readClose(t, d))

	_, err = f.svc.Download(ctx, "user_42", fr.Unique, fr.Token)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	assert.NoFileExists(t, f.blob.LocalPath(fr.Unique))
}

func TestUpload_ConcurrentIdenticalProcessOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.proc.delay = 50 * time.Millisecond

	const n = 10
	results := make([]FileResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Upload(ctx, "u", []IncomingFile{file("same.nef", "identical")})
			if assert.NoError(t, err) {
				results[i] = res.Files[0]
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, f.proc.calls.Load())

	var processed int
	uniques := map[string]bool{}
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.NotEmpty(t, r.Token)
		uniques[r.Unique] = true
		if r.Status == StatusProcessed {
			processed++
		}
	}
	assert.Equal(t, 1, processed)
	assert.Len(t, uniques, 1)
	assert.Len(t, f.svc.store.List("u"), 1)
}

func TestUpload_UsersAreIndependent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	r1, err := f.svc.Upload(ctx, "alice", []IncomingFile{file("a.arw", "same")})
	require.NoError(t, err)
	r2, err := f.svc.Upload(ctx, "bob", []IncomingFile{file("a.arw", "same")})
	require.NoError(t, err)

	a, b := r1.Files[0], r2.Files[0]
	assert.Equal(t, StatusProcessed, a.Status)
	assert.Equal(t, StatusProcessed, b.Status)
	assert.NotEqual(t, a.Unique, b.Unique)
	assert.EqualValues(t, 2, f.proc.calls.Load())

	_, err = f.svc.Download(ctx, "bob", a.Unique, a.Token)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	_, err = f.svc.Download(ctx, "alice", b.Unique, a.Token)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestUpload_SameBytesTwiceInOneRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Upload(ctx, "user_7", []IncomingFile{
		file("img.raf", "dup"),
		file("img.raf", "dup"),
	})
	require.NoError(t, err)

	processed := res.Filter(StatusProcessed)
	skipped := res.Filter(StatusSkipped)
	require.Len(t, processed, 1)
	require.Len(t, skipped, 1)
	assert.Equal(t, processed[0].Display, skipped[0].Display)
	assert.Equal(t, processed[0].Unique, skipped[0].Unique)
	assert.Equal(t, "processed 1 file(s), skipped 1 already processed file(s)", res.Message())
	assert.EqualValues(t, 1, f.proc.calls.Load())

	// The later token wins.
	_, err = f.svc.Download(ctx, "user_7", processed[0].Unique, processed[0].Token)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	d, err := f.svc.Download(ctx, "user_7", skipped[0].Unique, skipped[0].Token)
	require.NoError(t, err)
	readClose(t, d)
}

func TestUpload_ListingReissuesTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Upload(ctx, "u", []IncomingFile{file("x.orf", "x")})
	require.NoError(t, err)
	first := res.Files[0]

	l1, err := f.svc.List(ctx, "u")
	require.NoError(t, err)
	require.Len(t, l1, 1)
	l2, err := f.svc.List(ctx, "u")
	require.NoError(t, err)
	require.Len(t, l2, 1)
	assert.NotEqual(t, l1[0].Token, l2[0].Token)

	for _, stale := range []string{first.Token, l1[0].Token} {
		_, err = f.svc.Download(ctx, "u", first.Unique, stale)
		assert.ErrorIs(t, err, common.ErrUnauthorized)
	}

	d, err := f.svc.Download(ctx, "u", first.Unique, l2[0].Token)
	require.NoError(t, err)
	readClose(t, d)

	l3, err := f.svc.List(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, l3)
}

func TestUpload_PipelineFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.proc.failWith(fmt.Errorf("%w: convert: exit status 1", common.ErrPipelineFailure))

	res, err := f.svc.Upload(ctx, "u", []IncomingFile{file("a.rw2", "payload"), file("b.rw2", "other")})
	require.NoError(t, err)
	for _, fr := range res.Files {
		assert.Equal(t, StatusFailed, fr.Status)
		assert.ErrorIs(t, fr.Err, common.ErrPipelineFailure)
		assert.Empty(t, fr.Token)
	}
	assert.Equal(t, "processed 0 file(s), failed 2 file(s)", res.Message())
	assert.True(t, dirEmpty(t, filepath.Join(f.root, "upload")))

	f.proc.failWith(nil)
	res, err = f.svc.Upload(ctx, "u", []IncomingFile{file("a.rw2", "payload")})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Files[0].Status)
	assert.EqualValues(t, 3, f.proc.calls.Load())
}

func TestUpload_TimeoutIsRetried(t *testing.T) {
	f := newFixture(t)
	f.proc.delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := f.svc.Upload(ctx, "u", []IncomingFile{file("slow.cr3", "slow")})
	require.ErrorIs(t, err, common.ErrProcessingTimeout)
	require.NotNil(t, res)
	assert.Equal(t, StatusFailed, res.Files[0].Status)
	assert.ErrorIs(t, res.Files[0].Err, common.ErrProcessingTimeout)

	f.proc.delay = 0
	res, err = f.svc.Upload(context.Background(), "u", []IncomingFile{file("slow.cr3", "slow")})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Files[0].Status)
}

func TestUpload_OneFailureDoesNotAbortSiblings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	broken := IncomingFile{Filename: "broken.nef", Open: func() (io.ReadCloser, error) {
		return nil, errors.New("read error")
	}}
	res, err := f.svc.Upload(ctx, "u", []IncomingFile{broken, file("ok.nef", "ok")})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Files[0].Status)
	assert.Equal(t, StatusProcessed, res.Files[1].Status)
}

func TestUpload_ValidationMutatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Upload(ctx, "", []IncomingFile{file("a.cr2", "a")})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.Upload(ctx, "u", []IncomingFile{file("notes.txt", "t"), file("b.jpg", "j")})
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = f.svc.Upload(ctx, "u", nil)
	assert.ErrorIs(t, err, common.ErrValidation)

	assert.EqualValues(t, 0, f.proc.calls.Load())
	assert.Equal(t, 0, f.svc.store.Len())
	assert.Equal(t, 0, f.svc.tokens.Count())
	assert.True(t, dirEmpty(t, filepath.Join(f.root, "upload")))
}

func TestUpload_DisallowedFileDoesNotAbortBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	opened := false
	notes := IncomingFile{Filename: "notes.txt", Open: func() (io.ReadCloser, error) {
		opened = true
		return io.NopCloser(strings.NewReader("t")), nil
	}}

	res, err := f.svc.Upload(ctx, "u", []IncomingFile{file("photo.CR2", "raw"), notes})
	require.NoError(t, err)
	require.Len(t, res.Files, 2)

	assert.Equal(t, StatusProcessed, res.Files[0].Status)
	assert.Equal(t, StatusFailed, res.Files[1].Status)
	assert.Equal(t, "notes.txt", res.Files[1].Original)
	assert.ErrorIs(t, res.Files[1].Err, common.ErrValidation)
	assert.False(t, opened, "disallowed file must not be read")
	assert.Equal(t, "processed 1 file(s), failed 1 file(s)", res.Message())

	assert.EqualValues(t, 1, f.proc.calls.Load())
	assert.Equal(t, 1, f.svc.store.Len())
	assert.Equal(t, 1, f.svc.tokens.Count())
}

func TestUpload_TimeoutOnlyFailsWholeBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.proc.failWith(fmt.Errorf("%w: convert", common.ErrProcessingTimeout))

	res, err := f.svc.Upload(ctx, "u", []IncomingFile{file("a.cr2", "a"), file("b.cr2", "b")})
	assert.ErrorIs(t, err, common.ErrProcessingTimeout)
	require.NotNil(t, res)
	require.Len(t, res.Files, 2)

	broken := IncomingFile{Filename: "c.cr2", Open: func() (io.ReadCloser, error) {
		return nil, errors.New("read error")
	}}
	res, err = f.svc.Upload(ctx, "u", []IncomingFile{file("a.cr2", "a"), broken})
	require.NoError(t, err, "a non-timeout failure keeps the batch successful")
	assert.ErrorIs(t, res.Files[0].Err, common.ErrProcessingTimeout)
	assert.Equal(t, StatusFailed, res.Files[1].Status)
	assert.NotErrorIs(t, res.Files[1].Err, common.ErrProcessingTimeout)
	assert.Equal(t, 0, f.svc.store.Len())
}

func TestDownload_StaleTokenAfterReissue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Upload(ctx, "u", []IncomingFile{file("a.cr2", "a")})
	require.NoError(t, err)
	stale := res.Files[0].Token
	unique := res.Files[0].Unique

	listed, err := f.svc.List(ctx, "u")
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, err = f.svc.Download(ctx, "u", unique, stale)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	assert.Equal(t, 1, f.svc.store.Len(), "stale token must not consume the artifact")

	d, err := f.svc.Download(ctx, "u", unique, listed[0].Token)
	require.NoError(t, err)
	assert.Equal(t, "DNG:a", readClose(t, d))
	assert.Equal(t, 0, f.svc.tokens.Count())
}

func TestUpload_ConsumedContentIsNotReprocessed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Upload(ctx, "u", []IncomingFile{file("a.cr2", "a")})
	require.NoError(t, err)
	fr := res.Files[0]
	d, err := f.svc.Download(ctx, "u", fr.Unique, fr.Token)
	require.NoError(t, err)
	readClose(t, d)

	res, err = f.svc.Upload(ctx, "u", []IncomingFile{file("a.cr2", "a")})
	require.NoError(t, err)
	again := res.Files[0]
	assert.Equal(t, StatusSkipped, again.Status)
	assert.EqualValues(t, 1, f.proc.calls.Load())

	_, err = f.svc.Download(ctx, "u", again.Unique, again.Token)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPreview_GeneratedOnceAndKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Upload(ctx, "u", []IncomingFile{file("p.nef", "pix")})
	require.NoError(t, err)
	fr := res.Files[0]
	jpg := strings.TrimSuffix(fr.Unique, ".dng") + ".jpg"

	rc, _, err := f.svc.Preview(ctx, "u", fr.Unique, fr.Token)
	require.NoError(t, err)
	first := readClose(t, rc)

	rc, _, err = f.svc.Preview(ctx, "u", jpg, fr.Token)
	require.NoError(t, err)
	second := readClose(t, rc)

	assert.Equal(t, "JPG:DNG:pix", first)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, f.preview.calls.Load())

	d, err := f.svc.Download(ctx, "u", fr.Unique, fr.Token)
	require.NoError(t, err)
	readClose(t, d)
	assert.NoFileExists(t, f.blob.LocalPath(jpg))
}

func TestPreview_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Upload(ctx, "u", []IncomingFile{file("p.nef", "pix")})
	require.NoError(t, err)
	fr := res.Files[0]

	_, _, err = f.svc.Preview(ctx, "", fr.Unique, fr.Token)
	assert.ErrorIs(t, err, common.ErrValidation)
	_, _, err = f.svc.Preview(ctx, "u", strings.TrimSuffix(fr.Unique, ".dng")+".png", fr.Token)
	assert.ErrorIs(t, err, common.ErrValidation)
	_, _, err = f.svc.Preview(ctx, "u", fr.Unique, "bogus")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	_, _, err = f.svc.Preview(ctx, "other", fr.Unique, fr.Token)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestDownload_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Download(ctx, "", "x.dng", "t")
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = f.svc.Download(ctx, "u", "x.jpg", "t")
	assert.ErrorIs(t, err, common.ErrValidation)
	_, err = f.svc.Download(ctx, "u", "x.dng", "t")
	assert.ErrorIs(t, err, common.ErrUnauthorized)
}

func TestReset_ClearsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.Upload(ctx, "u", []IncomingFile{file("a.cr2", "a")})
	require.NoError(t, err)
	fr := res.Files[0]

	require.NoError(t, f.svc.Reset(ctx))
	assert.Equal(t, 0, f.svc.store.Len())
	assert.Equal(t, 0, f.svc.tokens.Count())

	_, err = f.svc.Download(ctx, "u", fr.Unique, fr.Token)
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	res, err = f.svc.Upload(ctx, "u", []IncomingFile{file("a.cr2", "a")})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Files[0].Status)
	assert.EqualValues(t, 2, f.proc.calls.Load())
}

func TestSweep_EvictsAndRevokes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc.config.ArtifactTTL = time.Hour

	res, err := f.svc.Upload(ctx, "u", []IncomingFile{file("a.cr2", "a")})
	require.NoError(t, err)
	fr := res.Files[0]

	assert.Equal(t, 0, f.svc.Sweep(ctx))

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, f.svc.Sweep(ctx))

	_, err = f.svc.Download(ctx, "u", fr.Unique, fr.Token)
	assert.ErrorIs(t, err, common.ErrUnauthorized)
	assert.NoFileExists(t, f.blob.LocalPath(fr.Unique))
}
