package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/dngdrop/internal/common"
)

var ErrUnavailable = errors.New("server unavailable")

// APIError is a non-2xx answer from the server. It unwraps to the matching
// common sentinel so callers can use errors.Is(err, common.ErrNotFound).
type APIError struct {
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Code)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return common.ErrValidation
	case http.StatusForbidden:
		return common.ErrUnauthorized
	case http.StatusNotFound:
		return common.ErrNotFound
	case http.StatusGatewayTimeout:
		return common.ErrProcessingTimeout
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	}
	return common.ErrInternal
}
