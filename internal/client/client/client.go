package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/dngdrop/internal/api"
	"github.com/dmitrijs2005/dngdrop/internal/common"
)

type Client struct {
	baseURL *url.URL
	http    *http.Client
}

// New returns a Client for the server at baseURL. A nil httpClient means
// http.DefaultClient.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: server url: %v", common.ErrValidation, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: server url must be http or https", common.ErrValidation)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: u, http: httpClient}, nil
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	var body api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.ErrorCode != "" {
		apiErr.Code = body.ErrorCode
		apiErr.Detail = body.Detail
	}
	return nil, apiErr
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, q), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// Upload sends the files at paths in one multipart request on behalf of
// userID.
func (c *Client) Upload(ctx context.Context, userID string, paths []string) (*api.UploadResponse, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no files selected", common.ErrValidation)
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return nil, err
		}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadBody(mw, userID, paths))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(api.PathUpload, nil), pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	// Unblocks the writer goroutine if the server stopped reading early.
	pr.Close()
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out api.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &out, nil
}

func writeUploadBody(mw *multipart.Writer, userID string, paths []string) error {
	if err := mw.WriteField(common.UserIDField, userID); err != nil {
		return err
	}
	for _, p := range paths {
		if err := writeFilePart(mw, p); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFilePart(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	part, err := mw.CreateFormFile(common.FilesField, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// List returns the retained artifacts of userID, each with a fresh token.
// Tokens returned by earlier calls stop working.
func (c *Client) List(ctx context.Context, userID string) ([]api.FileInfo, error) {
	var out api.ListResponse
	q := url.Values{common.UserIDField: {userID}}
	if err := c.getJSON(ctx, api.PathFiles, q, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// Download consumes the artifact into dir and returns the written path. The
// file is named after the display name announced by the server, falling
// back to unique. The server deletes the artifact as soon as it has been
// streamed, so a failed write here loses it.
func (c *Client) Download(ctx context.Context, userID, unique, token, dir string) (string, error) {
	q := url.Values{common.UserIDField: {userID}, common.TokenField: {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(api.PathDownload+url.PathEscape(unique), q), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	name := attachmentName(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = unique
	}
	target := filepath.Join(dir, name)

	f, err := os.Create(target)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return target, nil
}

// attachmentName extracts a safe base file name from a Content-Disposition
// header.
func attachmentName(header string) string {
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := filepath.Base(params["filename"])
	if name == "." || name == string(filepath.Separator) || name == ".." {
		return ""
	}
	return name
}

// Preview copies the JPEG preview of name into w. name may end in .dng or
// .jpg.
func (c *Client) Preview(ctx context.Context, userID, name, token string, w io.Writer) (int64, error) {
	q := url.Values{common.UserIDField: {userID}, common.TokenField: {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(api.PathPreview+url.PathEscape(name), q), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.Copy(w, resp.Body)
}

// Reset asks the server to drop all state. adminToken must match the
// server's admin_token.
func (c *Client) Reset(ctx context.Context, adminToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(api.PathReset, nil), nil)
	if err != nil {
		return err
	}
	req.Header.Set(api.HeaderAdminToken, adminToken)
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out api.ResetResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode reset response: %w", err)
	}
	return nil
}

// Ping reports whether the server answers /readyz.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/readyz", nil), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%w: %v", ErrUnavailable, apiErr)
		}
		return err
	}
	resp.Body.Close()
	return nil
}
