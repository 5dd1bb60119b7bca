// Package api defines the JSON documents exchanged between the dngdrop
// server and its clients.
package api

import "time"

// Route prefixes.
const (
	PathUpload   = "/upload"
	PathFiles    = "/api/files"
	PathDownload = "/download/"
	PathPreview  = "/preview/"
	PathReset    = "/admin/reset"
)

// HeaderAdminToken carries the admin token on administrative routes.
const HeaderAdminToken = "X-Admin-Token"

// UploadResponse answers POST /upload. FileTokens holds the tokens of
// ProcessedFiles followed by those of SkippedFiles, index for index.
type UploadResponse struct {
	// Message is a human readable summary.
	Message string `json:"message"`
	// ProcessedFiles lists display names of newly processed files.
	ProcessedFiles []string `json:"processed_files"`
	// FileTokens are freshly issued download tokens.
	FileTokens []string `json:"file_tokens"`
	// SkippedFiles lists display names of content that was already processed.
	SkippedFiles []string `json:"skipped_files"`
	// FileMapping maps display names to unique artifact names.
	FileMapping map[string]string `json:"file_mapping"`
	// FailedFiles reports files that could not be processed.
	FailedFiles []FailedFile `json:"failed_files"`
}

type FailedFile struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// FileInfo is one retained artifact as returned by GET /api/files.
type FileInfo struct {
	DisplayName string    `json:"display_name"`
	Unique      string    `json:"unique_filename"`
	Token       string    `json:"token"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

type ListResponse struct {
	Files []FileInfo `json:"files"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	// ErrorCode is a stable error identifier.
	ErrorCode string `json:"error"`
	// Detail provides human readable diagnostic context.
	Detail string `json:"detail,omitempty"`
}

type ResetResponse struct {
	Status string `json:"status"`
}
