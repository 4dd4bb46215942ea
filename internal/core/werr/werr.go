// Package werr defines the error kinds the broker reports to clients.
//
// The kind strings are part of the wire protocol: they are sent verbatim in
// the ERR header of exception replies and clients switch on them.
package werr

import (
	"errors"
	"fmt"
)

// Kind identifies a class of broker error.
type Kind string

const (
	KindProtocol         Kind = "protocol-error"
	KindBadOperation     Kind = "bad-operation"
	KindSchemaValidation Kind = "schema-validation-failed"
	KindNotFound         Kind = "object-not-found"
	KindAlreadyExists    Kind = "object-already-exists"
	KindClosed           Kind = "object-closed"
	KindAuthentication   Kind = "authentication-failed"
	KindUnauthorized     Kind = "unauthorized"
	KindInternal         Kind = "internal-error"
)

// Sentinels, one per kind, for use with errors.Is.
var (
	ErrProtocol         = errors.New(string(KindProtocol))
	ErrBadOperation     = errors.New(string(KindBadOperation))
	ErrSchemaValidation = errors.New(string(KindSchemaValidation))
	ErrNotFound         = errors.New(string(KindNotFound))
	ErrAlreadyExists    = errors.New(string(KindAlreadyExists))
	ErrClosed           = errors.New(string(KindClosed))
	ErrAuthentication   = errors.New(string(KindAuthentication))
	ErrUnauthorized     = errors.New(string(KindUnauthorized))
	ErrInternal         = errors.New(string(KindInternal))
)

var sentinels = map[Kind]error{
	KindProtocol:         ErrProtocol,
	KindBadOperation:     ErrBadOperation,
	KindSchemaValidation: ErrSchemaValidation,
	KindNotFound:         ErrNotFound,
	KindAlreadyExists:    ErrAlreadyExists,
	KindClosed:           ErrClosed,
	KindAuthentication:   ErrAuthentication,
	KindUnauthorized:     ErrUnauthorized,
	KindInternal:         ErrInternal,
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, ok := sentinels[k]
	return ok
}

// Error is a classified broker error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are internal errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	for kind, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}

	return KindInternal
}

// Detail returns the human readable part of err without the kind prefix.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) {
		switch {
		case e.Message != "" && e.Err != nil:
			return e.Message + ": " + e.Err.Error()
		case e.Message != "":
			return e.Message
		case e.Err != nil:
			return e.Err.Error()
		}
		return ""
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func Protocol(format string, args ...any) *Error { return New(KindProtocol, format, args...) }

func BadOperation(op string) *Error { return New(KindBadOperation, "%s", op) }

func SchemaValidation(format string, args ...any) *Error {
	return New(KindSchemaValidation, format, args...)
}

func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

func AlreadyExists(format string, args ...any) *Error {
	return New(KindAlreadyExists, format, args...)
}

func Closed(format string, args ...any) *Error { return New(KindClosed, format, args...) }

func Authentication(format string, args ...any) *Error {
	return New(KindAuthentication, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

func Internal(err error, message string) *Error { return Wrap(KindInternal, err, message) }
