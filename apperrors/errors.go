// Package apperrors defines the error taxonomy shared by services and handlers.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation   Kind = "VALIDATION_ERROR"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindConflict     Kind = "CONFLICT"
	KindRateLimit    Kind = "RATE_LIMIT_EXCEEDED"
	KindGateway      Kind = "GATEWAY_ERROR"
	KindInternal     Kind = "INTERNAL_ERROR"
)

type metadata struct {
	status        int
	publicMessage string
}

var metadataByKind = map[Kind]metadata{
	KindValidation:   {status: http.StatusBadRequest, publicMessage: "בקשה לא תקינה"},
	KindUnauthorized: {status: http.StatusUnauthorized, publicMessage: "נדרשת התחברות"},
	KindForbidden:    {status: http.StatusForbidden, publicMessage: "אין הרשאה לבצע פעולה זו"},
	KindNotFound:     {status: http.StatusNotFound, publicMessage: "הפריט לא נמצא"},
	KindConflict:     {status: http.StatusConflict, publicMessage: "הפעולה מתנגשת עם המצב הנוכחי"},
	KindRateLimit:    {status: http.StatusTooManyRequests, publicMessage: "יותר מדי בקשות, נסה שוב מאוחר יותר"},
	KindGateway:      {status: http.StatusInternalServerError, publicMessage: "שגיאה בשירות חיצוני"},
	KindInternal:     {status: http.StatusInternalServerError, publicMessage: "שגיאת שרת"},
}

// Error is a classified error. Message is safe to show to the admin UI;
// the wrapped cause is only logged.
type Error struct {
	kind    Kind
	message string
	cause   error
	fields  map[string]interface{}
}

func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{kind: kind, message: message, cause: err}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.message
	}
	return fmt.Sprintf("%s: %v", e.message, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Kind() Kind { return e.kind }

// WithFields attaches extra values rendered next to the message in the
// response body.
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	e.fields = fields
	return e
}

func (e *Error) Fields() map[string]interface{} { return e.fields }

// PublicMessage returns the message shown to clients. Internal errors never
// expose their text.
func (e *Error) PublicMessage() string {
	if e.kind == KindInternal || e.message == "" {
		return metadataByKind[e.kind].publicMessage
	}
	return e.message
}

func (e *Error) HTTPStatus() int {
	return StatusOf(e.kind)
}

// As extracts the first *Error in err's chain.
func As(err error) *Error {
	var target *Error
	if errors.As(err, &target) {
		return target
	}
	return nil
}

// KindOf reports the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e := As(err); e != nil {
		return e.kind
	}
	return KindInternal
}

func StatusOf(kind Kind) int {
	if md, ok := metadataByKind[kind]; ok {
		return md.status
	}
	return http.StatusInternalServerError
}

// DefaultMessage is the generic localized message for kind.
func DefaultMessage(kind Kind) string {
	if md, ok := metadataByKind[kind]; ok {
		return md.publicMessage
	}
	return metadataByKind[KindInternal].publicMessage
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsForbidden(err error) bool  { return KindOf(err) == KindForbidden }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

func Validation(message string) *Error { return New(KindValidation, message) }
func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}
func Forbidden(message string) *Error { return New(KindForbidden, message) }
func NotFound(message string) *Error  { return New(KindNotFound, message) }
func Conflict(message string) *Error  { return New(KindConflict, message) }
func RateLimited(message string) *Error {
	return New(KindRateLimit, message)
}
func Internal(err error) *Error { return Wrap(KindInternal, err, "") }
