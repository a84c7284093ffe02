package attestation

import (
	"errors"
	"fmt"
)

// Kind is the stable error category exposed to callers.
type Kind string

const (
	KindNotFound        Kind = "NOT_FOUND"
	KindIO              Kind = "IO_ERROR"
	KindExternalService Kind = "EXTERNAL_SERVICE_ERROR"
	KindSerialization   Kind = "SERIALIZATION_ERROR"
	KindInvalidRequest  Kind = "INVALID_REQUEST"
	KindInternal        Kind = "INTERNAL_ERROR"
)

// Sentinel errors, one per kind, usable with errors.Is.
var (
	ErrNotFound        = errors.New("dataset not found")
	ErrIO              = errors.New("io failure")
	ErrExternalService = errors.New("external service failure")
	ErrSerialization   = errors.New("serialization failure")
	ErrInvalidRequest  = errors.New("invalid request")
)

var sentinels = map[Kind]error{
	KindNotFound:        ErrNotFound,
	KindIO:              ErrIO,
	KindExternalService: ErrExternalService,
	KindSerialization:   ErrSerialization,
	KindInvalidRequest:  ErrInvalidRequest,
}

// Error carries the category plus enough context (operation, offending path,
// cause) to diagnose a failed pipeline without a retry.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// NewError wraps err with a kind, operation and optional path.
func NewError(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

func NotFound(path string) error {
	return &Error{Kind: KindNotFound, Op: "dataset directory not found:", Path: path}
}

func IOError(op, path string, err error) error {
	return &Error{Kind: KindIO, Op: op, Path: path, Err: err}
}

func ExternalServiceError(op string, err error) error {
	return &Error{Kind: KindExternalService, Op: op, Err: err}
}

func SerializationError(op string, err error) error {
	return &Error{Kind: KindSerialization, Op: op, Err: err}
}

func InvalidRequest(msg string) error {
	return &Error{Kind: KindInvalidRequest, Op: msg}
}

// KindOf classifies any error. Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindInternal
}
