// Package apperr defines the error taxonomy shared by the store, the game
// services, and both external surfaces (REST and the event channel).
// Every failed command reaches the caller as one of these, with a stable
// code string clients can switch on.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation policy and HTTP mapping.
type Kind uint8

const (
	KindValidation Kind = iota
	KindAuth
	KindNotFound
	KindConflict
	KindTransient
	KindFatal
)

// Stable error codes delivered in the envelope.
const (
	CodeMissingFields         = "MISSING_FIELDS"
	CodeInvalidSlot           = "INVALID_SLOT"
	CodeSlotOccupied          = "SLOT_OCCUPIED"
	CodeAreaExceeded          = "AREA_EXCEEDED"
	CodeUniqueStructureExists = "UNIQUE_STRUCTURE_EXISTS"
	CodeMinTownHallLevel      = "MIN_TOWN_HALL_LEVEL"
	CodePrerequisitesNotMet   = "PREREQUISITES_NOT_MET"
	CodeInsufficientResources = "INSUFFICIENT_RESOURCES"

	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeNotAdmin           = "NOT_ADMIN"
	CodeNotSettlementOwner = "NOT_SETTLEMENT_OWNER"

	CodeSettlementNotFound = "SETTLEMENT_NOT_FOUND"
	CodeStructureNotFound  = "STRUCTURE_NOT_FOUND"
	CodeTileNotFound       = "TILE_NOT_FOUND"
	CodeWorldNotFound      = "WORLD_NOT_FOUND"

	CodeWorldNotReady      = "WORLD_NOT_READY"
	CodeDisasterInProgress = "DISASTER_IN_PROGRESS"
	CodeQueueFull          = "QUEUE_FULL"

	CodeStoreUnavailable = "STORE_UNAVAILABLE"

	CodeMetadataFetchFailed = "METADATA_FETCH_FAILED"
	CodeCreateFailed        = "CREATE_FAILED"
	CodeUpgradeFailed       = "UPGRADE_FAILED"
	CodeDemolishFailed      = "DEMOLISH_FAILED"
)

// Error is a typed game error. Details carries structured payloads such as
// the shortages map on INSUFFICIENT_RESOURCES.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// WithDetail attaches a structured detail and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Wrap records an underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.wrapped = err
	return e
}

func Validation(code, msg string) *Error { return &Error{Kind: KindValidation, Code: code, Message: msg} }
func Auth(code, msg string) *Error       { return &Error{Kind: KindAuth, Code: code, Message: msg} }
func NotFound(code, msg string) *Error   { return &Error{Kind: KindNotFound, Code: code, Message: msg} }
func Conflict(code, msg string) *Error   { return &Error{Kind: KindConflict, Code: code, Message: msg} }
func Transient(code, msg string) *Error  { return &Error{Kind: KindTransient, Code: code, Message: msg} }
func Fatal(code, msg string) *Error      { return &Error{Kind: KindFatal, Code: code, Message: msg} }

// From extracts an *Error from err, or wraps err as a fatal internal error.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindFatal, Code: "INTERNAL", Message: "internal error", wrapped: err}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}

// IsTransient reports whether err is retriable.
func IsTransient(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == KindTransient
}

// HTTPStatus maps an error kind to the HTTP status used by the REST surface.
func HTTPStatus(err error) int {
	switch From(err).Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
