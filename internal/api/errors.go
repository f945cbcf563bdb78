package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds reported in the "type" field of an error body.
const (
	kindInvalidRequest = "invalid_request_error"
	kindUnknownTarget  = "unknown_target_error"
	kindServer         = "server_error"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnknownTarget  = errors.New("unknown GPU target")
)

// fieldError is a rejected request field. It matches both its kind and the
// underlying cause with errors.Is.
type fieldError struct {
	field string
	kind  error
	err   error
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.field, e.err)
}

func (e *fieldError) Unwrap() []error {
	return []error{e.kind, e.err}
}

func invalidField(field string, err error) error {
	return &fieldError{field: field, kind: ErrInvalidRequest, err: err}
}

func unknownTarget(err error) error {
	return &fieldError{field: "target", kind: ErrUnknownTarget, err: err}
}

// classify maps an error to the response status and error kind.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrUnknownTarget):
		return http.StatusBadRequest, kindUnknownTarget
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, kindInvalidRequest
	default:
		return http.StatusInternalServerError, kindServer
	}
}
