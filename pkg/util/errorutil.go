package util

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Category groups error codes into the failure classes surfaced to callers.
type Category string

const (
	CategoryAuthentication Category = "AUTHENTICATION"
	CategoryAuthorization  Category = "AUTHORIZATION"
	CategoryValidation     Category = "VALIDATION"
	CategoryConflict       Category = "CONFLICT"
	CategoryNotFound       Category = "NOT_FOUND"
	CategoryInternal       Category = "INTERNAL"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Category   Category
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError carrying the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of the error carrying the given details.
func (e *DomainError) WithDetails(details map[string]any) *DomainError {
	cp := *e
	cp.Details = details
	return &cp
}

// NewDomainError constructs a DomainError.
func NewDomainError(code string, category Category, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Category: category, Message: message, HTTPStatus: status, Details: details}
}

func sentinel(code string, category Category, message string, status int) *DomainError {
	return NewDomainError(code, category, message, status, nil)
}

// Stable error codes returned to clients.
var (
	ErrUnauthenticated    = sentinel("UNAUTHENTICATED", CategoryAuthentication, "authentication required", http.StatusUnauthorized)
	ErrTokenExpired       = sentinel("TOKEN_EXPIRED", CategoryAuthentication, "token expired", http.StatusUnauthorized)
	ErrTokenInvalid       = sentinel("TOKEN_INVALID", CategoryAuthentication, "token invalid", http.StatusUnauthorized)
	ErrInvalidCredentials = sentinel("INVALID_CREDENTIALS", CategoryAuthentication, "invalid phone or password", http.StatusUnauthorized)
	ErrAccountBanned      = sentinel("ACCOUNT_BANNED", CategoryAuthorization, "account banned", http.StatusForbidden)
	ErrPermissionDenied   = sentinel("PERMISSION_DENIED", CategoryAuthorization, "permission denied", http.StatusForbidden)

	ErrInvalidPhone            = sentinel("INVALID_PHONE", CategoryValidation, "invalid phone number", http.StatusBadRequest)
	ErrInvalidVerificationCode = sentinel("INVALID_VERIFICATION_CODE", CategoryValidation, "invalid or expired verification code", http.StatusBadRequest)
	ErrVerificationCooldown    = sentinel("VERIFICATION_CODE_COOLDOWN", CategoryValidation, "verification code requested too recently", http.StatusTooManyRequests)
	ErrRateLimited             = sentinel("RATE_LIMITED", CategoryValidation, "too many requests", http.StatusTooManyRequests)

	ErrPhoneAlreadyExists = sentinel("PHONE_ALREADY_EXISTS", CategoryConflict, "phone already registered", http.StatusConflict)
	ErrCodeInactive       = sentinel("CODE_INACTIVE", CategoryConflict, "invitation code inactive", http.StatusConflict)
	ErrCodeExpired        = sentinel("CODE_EXPIRED", CategoryConflict, "invitation code expired", http.StatusConflict)
	ErrCodeExhausted      = sentinel("CODE_EXHAUSTED", CategoryConflict, "invitation code exhausted", http.StatusConflict)

	ErrCodeNotFound = sentinel("CODE_NOT_FOUND", CategoryNotFound, "invitation code not found", http.StatusNotFound)
)

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", CategoryValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Category:   CategoryNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Category:   CategoryInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// FromStatus builds a DomainError for transport-level failures that carry only an HTTP status.
func FromStatus(status int, message string) *DomainError {
	category := CategoryValidation
	code := "VALIDATION_FAILED"
	switch {
	case status == http.StatusNotFound:
		category, code = CategoryNotFound, "NOT_FOUND"
	case status == http.StatusMethodNotAllowed:
		code = "METHOD_NOT_ALLOWED"
	case status == http.StatusUnauthorized:
		category, code = CategoryAuthentication, ErrUnauthenticated.Code
	case status == http.StatusForbidden:
		category, code = CategoryAuthorization, ErrPermissionDenied.Code
	case status == http.StatusTooManyRequests:
		code = ErrRateLimited.Code
	case status >= http.StatusInternalServerError:
		category, code, message = CategoryInternal, "INTERNAL_ERROR", "internal server error"
	}
	return NewDomainError(code, category, message, status, nil)
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NewNotFound("resource", nil).(*DomainError)
	}
	return NewInternalError(err).(*DomainError)
}

func MapError(err error) error {
	return ToDomainError(err)
}
