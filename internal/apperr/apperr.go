// Package apperr defines the error union shared by the HTTP pipeline, the LMS
// client and the batch synchronizer. Handlers return *Error and the formatter
// turns it into a status code and a message.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindDownstream
	KindConfig
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindDownstream:
		return "downstream"
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	default:
		return "internal"
	}
}

// Error is the tagged error. Status is the HTTP status the pipeline should answer with.
type Error struct {
	Kind    Kind
	Status  int
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// As extracts *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Code: http.StatusBadRequest, Message: msg}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindAuth, Status: http.StatusUnauthorized, Code: http.StatusUnauthorized, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindAuth, Status: http.StatusForbidden, Code: http.StatusForbidden, Message: msg}
}

// Transport is an envelope problem (missing or undecryptable params). Answered with 422.
func Transport(msg string, err error) *Error {
	return &Error{Kind: KindTransport, Status: http.StatusUnprocessableEntity, Code: http.StatusUnprocessableEntity, Message: msg, Err: err}
}

// Downstream wraps a failed call to an external system; status is the upstream status when known.
func Downstream(status int, msg string, err error) *Error {
	if status < 400 {
		status = http.StatusBadGateway
	}
	return &Error{Kind: KindDownstream, Status: status, Code: status, Message: msg, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Status: http.StatusInternalServerError, Code: http.StatusInternalServerError, Message: "Internal Server Error", Err: err}
}

func Config(msg string) *Error {
	return &Error{Kind: KindConfig, Status: http.StatusInternalServerError, Code: http.StatusInternalServerError, Message: msg}
}
