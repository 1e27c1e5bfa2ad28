package errorutil

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
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

// Is reports whether target is a DomainError of the same kind.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Error kinds surfaced to clients.
const (
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeDuplicateIdentity   = "DUPLICATE_IDENTITY"
	CodeWeakPassword        = "WEAK_PASSWORD"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeTokenInvalid        = "TOKEN_INVALID"
	CodeRateLimited         = "RATE_LIMITED"
	CodeNoRoute             = "NO_ROUTE"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeInternal            = "INTERNAL_ERROR"
)

// Sentinels for errors.Is checks. Constructors below return fresh values with
// the same code, so callers should never mutate these.
var (
	ErrInvalidCredentials  = NewDomainError(CodeInvalidCredentials, "invalid credentials", http.StatusUnauthorized, nil)
	ErrDuplicateIdentity   = NewDomainError(CodeDuplicateIdentity, "identity already registered", http.StatusConflict, nil)
	ErrWeakPassword        = NewDomainError(CodeWeakPassword, "password does not satisfy policy", http.StatusBadRequest, nil)
	ErrTokenExpired        = NewDomainError(CodeTokenExpired, "token expired", http.StatusUnauthorized, nil)
	ErrTokenInvalid        = NewDomainError(CodeTokenInvalid, "token invalid", http.StatusUnauthorized, nil)
	ErrRateLimited         = NewDomainError(CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests, nil)
	ErrNoRoute             = NewDomainError(CodeNoRoute, "no route for path", http.StatusNotFound, nil)
	ErrUpstreamUnavailable = NewDomainError(CodeUpstreamUnavailable, "upstream service unavailable", http.StatusBadGateway, nil)
	ErrUpstreamTimeout     = NewDomainError(CodeUpstreamTimeout, "upstream service timed out", http.StatusGatewayTimeout, nil)
)

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidationFailed, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func NewWeakPassword(reasons []string) error {
	return NewDomainError(CodeWeakPassword, ErrWeakPassword.Message, http.StatusBadRequest, map[string]any{"reasons": reasons})
}

// NewTokenInvalid keeps the client message generic; cause is for logs only.
func NewTokenInvalid(cause error) error {
	return &DomainError{Code: CodeTokenInvalid, Message: ErrTokenInvalid.Message, HTTPStatus: http.StatusUnauthorized, Err: cause}
}

// NewRateLimited carries the retry-after hint in whole seconds, rounded up.
func NewRateLimited(retryAfter time.Duration) error {
	return NewDomainError(CodeRateLimited, ErrRateLimited.Message, http.StatusTooManyRequests, map[string]any{
		"retry_after_seconds": RetryAfterSeconds(retryAfter),
	})
}

func NewNoRoute(path string) error {
	return NewDomainError(CodeNoRoute, ErrNoRoute.Message, http.StatusNotFound, map[string]any{"path": path})
}

// NewUpstreamUnavailable and NewUpstreamTimeout keep the upstream name in the
// wrapped cause only. It reaches the logs but never the response body.
func NewUpstreamUnavailable(upstream string, err error) error {
	return &DomainError{
		Code:       CodeUpstreamUnavailable,
		Message:    ErrUpstreamUnavailable.Message,
		HTTPStatus: http.StatusBadGateway,
		Err:        upstreamCause(upstream, err),
	}
}

func NewUpstreamTimeout(upstream string, err error) error {
	return &DomainError{
		Code:       CodeUpstreamTimeout,
		Message:    ErrUpstreamTimeout.Message,
		HTTPStatus: http.StatusGatewayTimeout,
		Err:        upstreamCause(upstream, err),
	}
}

func upstreamCause(upstream string, err error) error {
	if err == nil {
		return fmt.Errorf("upstream %s", upstream)
	}
	return fmt.Errorf("upstream %s: %w", upstream, err)
}

// RetryAfterSeconds rounds d up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
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
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// CodeHTTP is used for framework errors without a more specific kind.
const CodeHTTP = "HTTP_ERROR"

// FromStatus builds a DomainError for a bare HTTP status, such as the
// router's own 404 and 405 responses.
func FromStatus(status int, message string) *DomainError {
	code := CodeHTTP
	switch {
	case status == http.StatusBadRequest:
		code = CodeValidationFailed
	case status == http.StatusUnauthorized:
		code = CodeTokenInvalid
	case status == http.StatusForbidden:
		code = CodeForbidden
	case status == http.StatusNotFound:
		code = CodeNotFound
	case status == http.StatusTooManyRequests:
		code = CodeRateLimited
	case status >= http.StatusInternalServerError:
		code = CodeInternal
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return NewDomainError(code, message, status, nil)
}

// HTTPStatus returns the status err would be rendered with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return ToDomainError(err).HTTPStatus
}
