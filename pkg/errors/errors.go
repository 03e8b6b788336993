package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation              Code = "VALIDATION_ERROR"
	CodeUnknownShippingLocation Code = "UNKNOWN_SHIPPING_LOCATION"
	CodeInvalidSignature        Code = "INVALID_SIGNATURE"
	CodeUnauthorized            Code = "UNAUTHORIZED"
	CodeForbidden               Code = "FORBIDDEN"
	CodeNotFound                Code = "NOT_FOUND"
	CodeConflict                Code = "CONFLICT"
	CodeInsufficientStock       Code = "INSUFFICIENT_STOCK"
	CodeStateConflict           Code = "STATE_CONFLICT"
	CodeIdempotency             Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit               Code = "RATE_LIMITED"
	CodePayloadTooLarge         Code = "PAYLOAD_TOO_LARGE"
	CodeInternal                Code = "INTERNAL_ERROR"
	CodeGateway                 Code = "GATEWAY_ERROR"
	CodeDependency              Code = "DEPENDENCY_ERROR"
)

// Metadata describes how a code is rendered to API clients.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	// ExposeMessage lets the error's own message replace PublicMessage.
	ExposeMessage bool
}

func clientFault(status int, public string, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, DetailsAllowed: details, ExposeMessage: true}
}

func serverFault(status int, public string, retryable, details bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, Retryable: retryable, DetailsAllowed: details}
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:              clientFault(http.StatusBadRequest, "validation failed", true),
	CodeUnknownShippingLocation: clientFault(http.StatusBadRequest, "shipping location not supported", true),
	CodeUnauthorized:            clientFault(http.StatusUnauthorized, "authentication required", false),
	CodeForbidden:               clientFault(http.StatusForbidden, "access denied", false),
	CodeNotFound:                clientFault(http.StatusNotFound, "resource not found", false),
	CodeConflict:                clientFault(http.StatusConflict, "conflict detected", false),
	CodeInsufficientStock:       clientFault(http.StatusConflict, "insufficient stock", true),
	CodeStateConflict:           clientFault(http.StatusUnprocessableEntity, "state transition disallowed", true),
	CodeIdempotency:             clientFault(http.StatusConflict, "idempotency key reused", true),
	CodePayloadTooLarge:         clientFault(http.StatusRequestEntityTooLarge, "request body too large", true),
	CodeRateLimit:               {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "too many requests", Retryable: true, ExposeMessage: true},

	// Signature failures never echo why verification failed.
	CodeInvalidSignature: {HTTPStatus: http.StatusBadRequest, PublicMessage: "invalid signature"},

	CodeInternal:   serverFault(http.StatusInternalServerError, "internal server error", true, false),
	CodeGateway:    serverFault(http.StatusBadGateway, "payment provider rejected the request", false, false),
	CodeDependency: serverFault(http.StatusServiceUnavailable, "dependency unavailable", true, true),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a coded error. The message is safe to show clients when the
// code's metadata allows it; the cause never is.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

// PublicMessage is what an API response shows for e.
func (e *Error) PublicMessage() string {
	meta := MetadataFor(e.Code())
	if meta.ExposeMessage && e.Message() != "" {
		return e.Message()
	}
	return meta.PublicMessage
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if err != nil && stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

func IsCode(err error, code Code) bool {
	te := As(err)
	return te != nil && te.Code() == code
}
