// Package syncerr defines the per-record failure kinds produced while mapping
// and writing records.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind tags a failure so callers can branch without matching on text.
type Kind string

const (
	KindCompanyNotFound             Kind = "CompanyNotFound"
	KindRecordNotFound              Kind = "RecordNotFound"
	KindInvalidInput                Kind = "InvalidInputError"
	KindMissingField                Kind = "MissingField"
	KindInvalidFieldValue           Kind = "InvalidFieldValue"
	KindDimensionDefinitionNotFound Kind = "DimensionDefinitionNotFound"
	KindInvalidDimensionValue       Kind = "InvalidDimensionValue"
	KindDuplicatedRecord            Kind = "DuplicatedRecord"
	KindInvalidRecordState          Kind = "InvalidRecordState"
	KindRemote                      Kind = "RemoteAPIError"
)

// Error is a typed per-record failure.
type Error struct {
	Kind    Kind
	Field   string // offending input field, if any
	Message string
	Status  int    // remote HTTP status, KindRemote only
	Body    string // remote response body, verbatim
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches on kind. MissingField and InvalidFieldValue are both a kind of
// invalid input.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindInvalidInput && (e.Kind == KindMissingField || e.Kind == KindInvalidFieldValue)
}

// Sentinels for errors.Is.
var (
	ErrCompanyNotFound             = &Error{Kind: KindCompanyNotFound}
	ErrRecordNotFound              = &Error{Kind: KindRecordNotFound}
	ErrInvalidInput                = &Error{Kind: KindInvalidInput}
	ErrMissingField                = &Error{Kind: KindMissingField}
	ErrInvalidFieldValue           = &Error{Kind: KindInvalidFieldValue}
	ErrDimensionDefinitionNotFound = &Error{Kind: KindDimensionDefinitionNotFound}
	ErrInvalidDimensionValue       = &Error{Kind: KindInvalidDimensionValue}
	ErrDuplicatedRecord            = &Error{Kind: KindDuplicatedRecord}
	ErrInvalidRecordState          = &Error{Kind: KindInvalidRecordState}
	ErrRemote                      = &Error{Kind: KindRemote}
)

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewField builds an error of the given kind tied to an input field.
func NewField(kind Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Missing reports a required field that was not supplied.
func Missing(field string) *Error {
	return &Error{Kind: KindMissingField, Field: field, Message: "field is required"}
}

// Remote wraps a failed sub-request. The body is kept exactly as received.
func Remote(status int, message, body string) *Error {
	if message == "" {
		message = fmt.Sprintf("remote request failed with status %d", status)
	}
	return &Error{Kind: KindRemote, Status: status, Message: message, Body: body}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
