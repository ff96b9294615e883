package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a domain error for propagation to protocol layers.
type ErrorKind string

const (
	ErrValidation    ErrorKind = "validation"     // malformed or missing input
	ErrLimitExceeded ErrorKind = "limit_exceeded" // size/count guard rail
	ErrNotFound      ErrorKind = "not_found"
	ErrStorage       ErrorKind = "storage"   // I/O or engine failure
	ErrEmbedding     ErrorKind = "embedding" // dimension/model mismatch
	ErrOther         ErrorKind = "other"
)

// Error is the typed error shared across all components. Validation,
// LimitExceeded and NotFound are caller mistakes; the rest are internal
// failures whose detail is preserved for diagnostics.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two domain errors by kind, so callers can test
// errors.Is(err, &domain.Error{Kind: domain.ErrValidation}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// HTTPStatus maps the error kind to its HTTP equivalent.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case ErrValidation, ErrLimitExceeded:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func Limitf(format string, args ...any) *Error {
	return &Error{Kind: ErrLimitExceeded, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

func StorageErr(msg string, err error) *Error {
	return &Error{Kind: ErrStorage, Msg: msg, Err: err}
}

func Storagef(format string, args ...any) *Error {
	return &Error{Kind: ErrStorage, Msg: fmt.Sprintf(format, args...)}
}

func EmbeddingErr(msg string, err error) *Error {
	return &Error{Kind: ErrEmbedding, Msg: msg, Err: err}
}

func Embeddingf(format string, args ...any) *Error {
	return &Error{Kind: ErrEmbedding, Msg: fmt.Sprintf(format, args...)}
}

func OtherErr(msg string, err error) *Error {
	return &Error{Kind: ErrOther, Msg: msg, Err: err}
}

// KindOf returns the kind of err if it is (or wraps) a domain error,
// and ErrOther for everything else.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrOther
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
