// Package client talks to a dngdrop server over its HTTP contract.
//
// Client wraps an *http.Client and exposes one method per route: Upload
// streams a multipart body without buffering the files in memory, List
// reissues tokens for every retained artifact, Download consumes an artifact
// into a local file and Preview copies the JPEG preview into a writer.
//
// Non-2xx answers are returned as *APIError, which unwraps to the sentinel
// errors of the common package (ErrValidation, ErrUnauthorized, ErrNotFound,
// ErrProcessingTimeout) and to ErrUnavailable for 503.
package client
