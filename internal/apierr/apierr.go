// Package apierr defines the closed error-kind variant exposed by the
// gateway core. Every error a caller of the core needs to branch on is one
// of these kinds; anything else is wrapped as Internal.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error categories the core can return.
type Kind string

const (
	KindUnauthorizedToken Kind = "unauthorized_token"
	KindForbidden         Kind = "forbidden"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindUnknownCapability Kind = "unknown_capability"
	KindPermissionDenied  Kind = "permission_denied"
	KindNotConnected      Kind = "not_connected"
	KindDecrypt           Kind = "decrypt_error"
	KindValidation        Kind = "validation_error"
	KindSessionClosed     Kind = "session_closed"
	KindAttachFailed      Kind = "attach_failed"
	KindInternal          Kind = "internal"
)

// Error is the concrete type carried by every core-level failure.
type Error struct {
	Kind  Kind
	Msg   string
	Field string // set for KindValidation
	Cause error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %q)", e.Kind, e.Msg, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, target) hold when target is (or wraps) an *Error
// whose Kind equals e.Kind; the messages are not compared.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func UnauthorizedToken(msg string) *Error { return New(KindUnauthorizedToken, msg) }
func Forbidden(msg string) *Error         { return New(KindForbidden, msg) }
func NotFound(msg string) *Error          { return New(KindNotFound, msg) }
func Conflict(msg string) *Error          { return New(KindConflict, msg) }
func UnknownCapability(msg string) *Error { return New(KindUnknownCapability, msg) }
func PermissionDenied(msg string) *Error  { return New(KindPermissionDenied, msg) }
func NotConnected(msg string) *Error      { return New(KindNotConnected, msg) }
func SessionClosed(msg string) *Error     { return New(KindSessionClosed, msg) }

func DecryptErr(cause error) *Error {
	return &Error{Kind: KindDecrypt, Msg: "ciphertext failed integrity check", Cause: cause}
}

func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg, Field: field}
}

func AttachFailed(namespace string, cause error) *Error {
	return &Error{Kind: KindAttachFailed, Msg: fmt.Sprintf("failed to attach upstream %q", namespace), Cause: cause}
}

func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to KindInternal for any error
// that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the ingress status code from spec §7. Kinds
// that are not transport errors (UnknownCapability, PermissionDenied,
// NotConnected) return 0 — they are surfaced as MCP-level errors instead.
func HTTPStatus(k Kind) int {
	switch k {
	case KindUnauthorizedToken:
		return 401
	case KindForbidden:
		return 403
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindValidation:
		return 400
	case KindDecrypt, KindInternal:
		return 500
	default:
		return 0
	}
}
