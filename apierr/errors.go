package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Every typed error in this package matches exactly one of
// them with errors.Is.
var (
	// ErrCredentials indicates missing or rejected credentials
	ErrCredentials = errors.New("invalid credentials")
	// ErrClient indicates the server rejected the request with a 4xx status
	ErrClient = errors.New("client error")
	// ErrRedirect indicates an unexpected redirect on a write request
	ErrRedirect = errors.New("unexpected redirect")
	// ErrServer indicates a 5xx status or a transport level failure
	ErrServer = errors.New("server error")
	// ErrProtocol indicates the server violated the response contract
	ErrProtocol = errors.New("protocol violation")
	// ErrValidation indicates a payload was rejected before sending
	ErrValidation = errors.New("validation failed")
	// ErrInvalidRange indicates an empty or inverted time range
	ErrInvalidRange = errors.New("invalid range")
	// ErrNotSupported indicates the operation is unavailable for this client
	ErrNotSupported = errors.New("operation not supported")
)

// CredentialError is returned when no usable credentials are configured or
// the remote service rejected them. It is never retried.
type CredentialError struct {
	Reason     string
	StatusCode int // 0 when no request was made
}

func (e *CredentialError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("credential error: %s (status %d)", e.Reason, e.StatusCode)
	}
	return "credential error: " + e.Reason
}

// Is reports whether target is ErrCredentials.
func (e *CredentialError) Is(target error) bool {
	return target == ErrCredentials
}

// ClientError carries a 4xx status and the server supplied message.
type ClientError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%d Error: %s", e.StatusCode, e.Message)
}

// Is reports whether target is ErrClient.
func (e *ClientError) Is(target error) bool {
	return target == ErrClient
}

// IsUnauthorized checks if the server rejected the bearer token
func (e *ClientError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsNotFound checks if the error indicates a not found response
func (e *ClientError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// RedirectError is returned when a POST or PUT is answered with a redirect.
// Writes never follow redirects.
type RedirectError struct {
	Method     string
	URL        string
	Location   string
	StatusCode int
}

func (e *RedirectError) Error() string {
	if e.Location != "" {
		return fmt.Sprintf("%d redirect for %s %s to %s", e.StatusCode, e.Method, e.URL, e.Location)
	}
	return fmt.Sprintf("%d redirect for %s %s", e.StatusCode, e.Method, e.URL)
}

// Is reports whether target is ErrRedirect.
func (e *RedirectError) Is(target error) bool {
	return target == ErrRedirect
}

// ServerError wraps 5xx responses, unexpected statuses and network failures.
type ServerError struct {
	StatusCode int // 0 for network failures
	URL        string
	Body       string
	Err        error
}

func (e *ServerError) Error() string {
	switch {
	case e.StatusCode > 0 && e.Body != "":
		return fmt.Sprintf("%d Server Error for %s: %s", e.StatusCode, e.URL, e.Body)
	case e.StatusCode > 0:
		return fmt.Sprintf("%d Server Error for %s", e.StatusCode, e.URL)
	case e.Err != nil:
		return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
	default:
		return "request to " + e.URL + " failed"
	}
}

// Is reports whether target is ErrServer.
func (e *ServerError) Is(target error) bool {
	return target == ErrServer
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// ProtocolError is returned when a response does not follow the expected
// contract, e.g. a full page without a next offset.
type ProtocolError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("protocol error for %s: %s", e.URL, e.Reason)
	}
	return "protocol error: " + e.Reason
}

// Is reports whether target is ErrProtocol.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ValidationError is returned before any network call when a payload is
// malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Reason)
	}
	return "validation error: " + e.Reason
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InvalidRangeError is returned for inverted intervals or non-positive steps.
type InvalidRangeError struct {
	Start  int64
	End    int64
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range [%d, %d]: %s", e.Start, e.End, e.Reason)
}

// Is reports whether target is ErrInvalidRange.
func (e *InvalidRangeError) Is(target error) bool {
	return target == ErrInvalidRange
}

// NotSupported returns an error wrapping ErrNotSupported for op.
func NotSupported(op, reason string) error {
	return fmt.Errorf("%s: %w: %s", op, ErrNotSupported, reason)
}
