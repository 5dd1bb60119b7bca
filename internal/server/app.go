// Package server wires the dngdrop components together and runs the HTTP
// gateway, the optional gRPC health service and the retention sweeper until
// the process is told to stop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dmitrijs2005/dngdrop/internal/artifacts"
	"github.com/dmitrijs2005/dngdrop/internal/artifacts/s3blob"
	"github.com/dmitrijs2005/dngdrop/internal/common"
	"github.com/dmitrijs2005/dngdrop/internal/dedup"
	"github.com/dmitrijs2005/dngdrop/internal/filex"
	"github.com/dmitrijs2005/dngdrop/internal/fingerprint"
	"github.com/dmitrijs2005/dngdrop/internal/logging"
	"github.com/dmitrijs2005/dngdrop/internal/naming"
	"github.com/dmitrijs2005/dngdrop/internal/pipeline"
	"github.com/dmitrijs2005/dngdrop/internal/server/config"
	"github.com/dmitrijs2005/dngdrop/internal/server/httpapi"
	"github.com/dmitrijs2005/dngdrop/internal/server/metrics"
	"github.com/dmitrijs2005/dngdrop/internal/server/services"
	"github.com/dmitrijs2005/dngdrop/internal/tokens"

	gs "github.com/dmitrijs2005/dngdrop/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	service  *services.FileService
	handler  *httpapi.Handler
	grpc     *gs.GRPCServer
	pipeline *pipeline.Pipeline
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger, err := logging.NewJSONLogger(os.Stdout, c.LogLevel)
	if err != nil {
		return nil, err
	}

	secret := c.SecretKey
	if secret == "" {
		if secret, err = common.MakeRandHexString(32); err != nil {
			return nil, fmt.Errorf("generate secret key: %w", err)
		}
		logger.Info(ctx, "no secret_key configured, using a random one")
	}

	uploadDir, err := filex.EnsureDir(c.UploadDir)
	if err != nil {
		return nil, err
	}
	workDir, err := filex.EnsureDir(c.WorkDir)
	if err != nil {
		return nil, err
	}

	blob, err := newBlob(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	fp, err := fingerprint.New(c.Fingerprint)
	if err != nil {
		return nil, err
	}

	registry, err := tokens.NewRegistry([]byte(secret))
	if err != nil {
		return nil, err
	}

	pl := &pipeline.Pipeline{
		ConverterPath: c.ConverterPath,
		ExiftoolPath:  c.ExiftoolPath,
		ExifTags:      c.ExifTags,
		Timeout:       c.PipelineTimeout,
		Runner:        pipeline.ExecRunner{},
	}
	previewer := &pipeline.Previewer{
		ExiftoolPath: c.ExiftoolPath,
		Quality:      pipeline.DefaultPreviewQuality,
		Timeout:      c.PreviewTimeout,
		Runner:       pipeline.ExecRunner{},
	}

	store := artifacts.NewStore(blob, workDir, previewer, logger)
	m := metrics.New(store.Len, registry.Count)

	svc := services.NewFileService(services.Config{
		UploadDir:   uploadDir,
		WorkDir:     workDir,
		ArtifactTTL: c.ArtifactTTL,
	}, services.Deps{
		Store:       store,
		Index:       dedup.NewIndex(),
		Tokens:      registry,
		Processor:   pl,
		Fingerprint: fp,
		Names:       naming.NewAllocator(),
		Metrics:     m,
		Logger:      logger,
	})

	h := httpapi.New(svc, m, logger, httpapi.Config{
		MaxUploadSize: int64(c.MaxUploadSize),
		AdminToken:    c.AdminToken,
		HTTPTracing:   c.HTTPTracing,
	})

	app := &App{
		config:   c,
		logger:   logger,
		service:  svc,
		handler:  h,
		pipeline: pl,
	}
	if c.GRPCAddr != "" {
		app.grpc = gs.NewGRPCServer(c.GRPCAddr, logger)
	}
	return app, nil
}

func newBlob(ctx context.Context, c *config.Config) (artifacts.Blob, error) {
	switch c.StorageBackend {
	case config.BackendS3:
		b, err := s3blob.New(ctx, s3blob.Config{
			Endpoint:  c.S3Endpoint,
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Prefix:    c.S3Prefix,
			PathStyle: c.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		if err := b.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return artifacts.NewDiskBlob(c.OutputDir)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) error {
	mux := http.NewServeMux()
	app.handler.Register(mux)

	srv := &http.Server{
		Addr:              app.config.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", app.config.HTTPAddr,
		"max_upload", humanize.Bytes(uint64(app.config.MaxUploadSize)))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
		return err
	}
	return nil
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) error {
	if err := app.grpc.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
		return err
	}
	return nil
}

// Run clears all state left over from a previous process, then serves
// until ctx is cancelled or a termination signal arrives.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if err := app.pipeline.Check(); err != nil {
		app.logger.Warn(ctx, "external tools not found, processing will fail", "error", err)
	}

	if err := app.service.Reset(ctx); err != nil {
		return fmt.Errorf("startup reset: %w", err)
	}
	app.handler.SetReady(true)
	if app.grpc != nil {
		app.grpc.SetServing(true)
	}

	var (
		wg      sync.WaitGroup
		httpErr error
		grpcErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		httpErr = app.startHTTPServer(ctx, cancelFunc)
	}()

	if app.grpc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			grpcErr = app.startGRPCServer(ctx, cancelFunc)
		}()
	}

	if app.config.ArtifactTTL > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.logger.Info(ctx, "Starting retention sweeper", "ttl", app.config.ArtifactTTL)
			app.service.RunSweeper(ctx, app.config.SweepInterval)
		}()
	}

	wg.Wait()

	return errors.Join(httpErr, grpcErr)
}
