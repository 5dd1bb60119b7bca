// Package common defines shared constants, helpers and sentinel errors used
// across dngdrop components. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Request validation errors (missing user id, disallowed extension).
	ErrValidation = errors.New("validation error")

	// Lookup errors (unknown artifact, stale token referencing a deleted artifact).
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Capability errors. Deliberately carries no detail.
	ErrUnauthorized = errors.New("unauthorized")

	// External tool errors.
	ErrPipelineFailure   = errors.New("pipeline failure")
	ErrProcessingTimeout = errors.New("processing timeout")

	ErrInternal = errors.New("internal error")
)
