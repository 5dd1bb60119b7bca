// Package httpapi is the HTTP gateway of the server: it decodes requests,
// calls the file service and maps its results and errors onto HTTP.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dmitrijs2005/dngdrop/internal/api"
	"github.com/dmitrijs2005/dngdrop/internal/common"
	"github.com/dmitrijs2005/dngdrop/internal/logging"
	"github.com/dmitrijs2005/dngdrop/internal/server/metrics"
	"github.com/dmitrijs2005/dngdrop/internal/server/services"
)

// multipart parts beyond this size are spooled to temporary files.
const maxMemory = 32 << 20

type Config struct {
	// MaxUploadSize bounds the request body of POST /upload; zero disables it.
	MaxUploadSize int64
	// AdminToken enables POST /admin/reset when non-empty.
	AdminToken  string
	HTTPTracing bool
}

type Handler struct {
	svc     *services.FileService
	metrics *metrics.Metrics
	logger  logging.Logger
	cfg     Config
	ready   atomic.Bool
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func New(svc *services.FileService, m *metrics.Metrics, logger logging.Logger, cfg Config) *Handler {
	return &Handler{
		svc:     svc,
		metrics: m,
		logger:  logger.With("module", "httpapi"),
		cfg:     cfg,
	}
}

// SetReady flips the answer of /readyz.
func (h *Handler) SetReady(ready bool) { h.ready.Store(ready) }

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST "+api.PathUpload, h.wrap("upload", h.handleUpload))
	mux.Handle("GET "+api.PathFiles, h.wrap("list", h.handleList))
	mux.Handle("GET "+api.PathDownload+"{name}", h.wrap("download", h.handleDownload))
	mux.Handle("GET "+api.PathPreview+"{name}", h.wrap("preview", h.handlePreview))
	mux.Handle("POST "+api.PathReset, h.wrap("reset", h.handleReset))
	mux.Handle("GET /healthz", h.wrap("healthz", h.handleHealth))
	mux.Handle("GET /readyz", h.wrap("readyz", h.handleReady))
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(p)
	s.bytes += int64(n)
	return n, err
}

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		reqID := uuid.NewString()
		logger := h.logger.With(
			"req_id", reqID,
			"operation", operation,
			"method", r.Method,
			"path", r.URL.Path,
		)

		rec := &statusRecorder{ResponseWriter: w}
		rec.Header().Set("X-Request-Id", reqID)

		if err := fn(rec, r); err != nil {
			logger.Debug(ctx, "request error", "elapsed", time.Since(start), "error", err)
			h.handleError(rec, logger, r, err)
		}

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveRequest(operation, status)
		logger.Debug(ctx, "request complete",
			"status", status,
			"sent", humanize.Bytes(uint64(rec.bytes)),
			"elapsed", time.Since(start))
	})

	if !h.cfg.HTTPTracing {
		return handler
	}
	return otelhttp.NewHandler(handler, "dngdrop.http."+operation,
		otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents))
}

type httpError struct {
	Status int
	Code   string
	Detail string
}

func (e httpError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code
}

func toHTTPError(err error) httpError {
	var he httpError
	if errors.As(err, &he) {
		return he
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return httpError{Status: http.StatusRequestEntityTooLarge, Code: "too_large",
			Detail: fmt.Sprintf("upload exceeds %s", humanize.Bytes(uint64(tooLarge.Limit)))}
	case errors.Is(err, common.ErrValidation):
		return httpError{Status: http.StatusBadRequest, Code: "invalid_request", Detail: err.Error()}
	case errors.Is(err, common.ErrUnauthorized):
		return httpError{Status: http.StatusForbidden, Code: "forbidden"}
	case errors.Is(err, common.ErrNotFound):
		return httpError{Status: http.StatusNotFound, Code: "not_found"}
	case errors.Is(err, common.ErrProcessingTimeout):
		return httpError{Status: http.StatusGatewayTimeout, Code: "processing_timeout"}
	case errors.Is(err, common.ErrPipelineFailure):
		return httpError{Status: http.StatusInternalServerError, Code: "processing_failed"}
	}
	return httpError{Status: http.StatusInternalServerError, Code: "internal"}
}

func (h *Handler) handleError(w http.ResponseWriter, logger logging.Logger, r *http.Request, err error) {
	he := toHTTPError(err)
	if he.Status >= 500 {
		logger.Error(r.Context(), "request failed", "status", he.Status, "error", err)
	}
	if rec, ok := w.(*statusRecorder); ok && rec.status != 0 {
		// Headers are gone; nothing sensible left to send.
		return
	}
	h.writeJSON(w, he.Status, api.ErrorResponse{ErrorCode: he.Code, Detail: he.Detail})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) error {
	if h.cfg.MaxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize)
	}
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return httpError{Status: http.StatusBadRequest, Code: "invalid_request", Detail: "multipart form expected"}
	}
	defer r.MultipartForm.RemoveAll()

	userID := r.FormValue(common.UserIDField)
	headers := r.MultipartForm.File[common.FilesField]
	if len(headers) == 0 {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_request", Detail: "no files selected"}
	}

	files := make([]services.IncomingFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, services.IncomingFile{
			Filename: fh.Filename,
			Open:     func() (io.ReadCloser, error) { return fh.Open() },
		})
	}

	res, err := h.svc.Upload(r.Context(), userID, files)
	if err != nil {
		return err
	}

	h.writeJSON(w, http.StatusOK, uploadResponse(res))
	return nil
}

func uploadResponse(res *services.UploadResult) api.UploadResponse {
	out := api.UploadResponse{
		Message:        res.Message(),
		ProcessedFiles: []string{},
		FileTokens:     []string{},
		SkippedFiles:   []string{},
		FileMapping:    map[string]string{},
		FailedFiles:    []api.FailedFile{},
	}

	for _, f := range res.Filter(services.StatusProcessed) {
		out.ProcessedFiles = append(out.ProcessedFiles, f.Display)
		out.FileTokens = append(out.FileTokens, f.Token)
	}
	for _, f := range res.Filter(services.StatusSkipped) {
		out.SkippedFiles = append(out.SkippedFiles, f.Display)
		out.FileTokens = append(out.FileTokens, f.Token)
	}
	for _, f := range res.Files {
		switch f.Status {
		case services.StatusFailed:
			out.FailedFiles = append(out.FailedFiles, api.FailedFile{
				Name:  f.Original,
				Error: toHTTPError(f.Err).Code,
			})
		default:
			out.FileMapping[f.Display] = f.Unique
		}
	}
	return out
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) error {
	files, err := h.svc.List(r.Context(), r.URL.Query().Get(common.UserIDField))
	if err != nil {
		return err
	}

	resp := api.ListResponse{Files: make([]api.FileInfo, 0, len(files))}
	for _, f := range files {
		resp.Files = append(resp.Files, api.FileInfo{
			DisplayName: f.DisplayName,
			Unique:      f.Unique,
			Token:       f.Token,
			Size:        f.Size,
			CreatedAt:   f.CreatedAt.UTC(),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	d, err := h.svc.Download(r.Context(), q.Get(common.UserIDField), r.PathValue("name"), q.Get(common.TokenField))
	if err != nil {
		return err
	}
	defer d.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": d.DisplayName}))
	w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, d); err != nil {
		return fmt.Errorf("stream %s: %w", d.Unique, err)
	}
	return nil
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) error {
	q := r.URL.Query()
	rc, size, err := h.svc.Preview(r.Context(), q.Get(common.UserIDField), r.PathValue("name"), q.Get(common.TokenField))
	if err != nil {
		return err
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Cache-Control", "private, no-store")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("stream preview: %w", err)
	}
	return nil
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) error {
	if h.cfg.AdminToken == "" {
		return httpError{Status: http.StatusNotFound, Code: "not_found"}
	}
	got := r.Header.Get(api.HeaderAdminToken)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.AdminToken)) != 1 {
		return common.ErrUnauthorized
	}

	h.SetReady(false)
	defer h.SetReady(true)
	if err := h.svc.Reset(r.Context()); err != nil {
		return fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	h.writeJSON(w, http.StatusOK, api.ResetResponse{Status: "reset"})
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) error {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return nil
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) error {
	if !h.ready.Load() {
		return httpError{Status: http.StatusServiceUnavailable, Code: "not_ready"}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	return nil
}
