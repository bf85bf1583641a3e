// Package apperr defines the error kinds returned by the settlement core and
// the stable machine-readable codes the HTTP layer exposes for them.
package apperr

import (
	"errors"
	"strings"
)

// Kind classifies an error. A Kind is itself an error so callers can match
// with errors.Is(err, apperr.InsufficientFunds).
type Kind uint8

const (
	Internal Kind = iota
	InsufficientFunds
	ServiceUnavailable
	IllegalTransition
	AlreadyReversed
	NoPendingChange
	NotFound
	ValidationError
	StorageConflict
	RateLimited
)

var codes = map[Kind]string{
	Internal:           "internal_error",
	InsufficientFunds:  "insufficient_funds",
	ServiceUnavailable: "service_unavailable",
	IllegalTransition:  "illegal_transition",
	AlreadyReversed:    "already_reversed",
	NoPendingChange:    "no_pending_change",
	NotFound:           "not_found",
	ValidationError:    "validation_error",
	StorageConflict:    "storage_conflict",
	RateLimited:        "rate_limited",
}

func (k Kind) Code() string {
	if code, ok := codes[k]; ok {
		return code
	}
	return codes[Internal]
}

func (k Kind) Error() string {
	return strings.ReplaceAll(k.Code(), "_", " ")
}

// Retryable reports whether a caller may retry the failed call automatically.
func (k Kind) Retryable() bool {
	return k == StorageConflict
}

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Message != "":
		b.WriteString(e.Message)
		if e.Err != nil {
			b.WriteString(": ")
			b.WriteString(e.Err.Error())
		}
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Kind.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	kind, ok := target.(Kind)
	return ok && e.Kind == kind
}

// E builds a new error of the given kind.
func E(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches operation context to err while keeping its kind.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// As wraps err under an explicit kind, e.g. a storage error that means
// StorageConflict to the caller.
func As(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain, or
// Internal when the chain carries none.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	var kind Kind
	if errors.As(err, &kind) {
		return kind
	}
	return Internal
}

func Code(err error) string {
	return KindOf(err).Code()
}

// Message returns the most specific human-readable message in the chain.
func Message(err error) string {
	for current := err; current != nil; current = errors.Unwrap(current) {
		if appErr, ok := current.(*Error); ok && appErr.Message != "" {
			return appErr.Message
		}
	}
	return KindOf(err).Error()
}
