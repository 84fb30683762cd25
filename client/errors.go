package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrUnauthorized indicates rejected credentials (HTTP 401). Never retried.
type ErrUnauthorized struct {
	Err error
}

func (e ErrUnauthorized) Error() string {
	return fmt.Errorf("unauthorized: %w", e.Err).Error()
}

func (e ErrUnauthorized) Unwrap() error {
	return e.Err
}

// ErrQueryRejected indicates a 200 response whose body carries an
// application-level error list. Never retried.
type ErrQueryRejected struct {
	Messages []string
}

func (e ErrQueryRejected) Error() string {
	return "query rejected: " + strings.Join(e.Messages, "; ")
}

// ErrRateLimited indicates a primary or secondary rate limit (HTTP 403/429).
type ErrRateLimited struct {
	StatusCode int
	Err        error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited (%d): %w", e.StatusCode, e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrServer indicates a transient server-side failure (HTTP 5xx).
type ErrServer struct {
	StatusCode int
	Err        error
}

func (e ErrServer) Error() string {
	return fmt.Errorf("server (%d): %w", e.StatusCode, e.Err).Error()
}

func (e ErrServer) Unwrap() error {
	return e.Err
}

// ErrUnexpectedStatus covers every other non-200 status.
type ErrUnexpectedStatus struct {
	StatusCode int
	Err        error
}

func (e ErrUnexpectedStatus) Error() string {
	return fmt.Errorf("status %d: %w", e.StatusCode, e.Err).Error()
}

func (e ErrUnexpectedStatus) Unwrap() error {
	return e.Err
}

// ErrRetriesExhausted is returned once every allowed attempt failed with a
// retryable error. Err is the cause of the final attempt.
type ErrRetriesExhausted struct {
	Attempts int
	Err      error
}

func (e ErrRetriesExhausted) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e ErrRetriesExhausted) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether another attempt may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var unauthorized ErrUnauthorized
	if errors.As(err, &unauthorized) {
		return false
	}
	var rejected ErrQueryRejected
	if errors.As(err, &rejected) {
		return false
	}
	var exhausted ErrRetriesExhausted
	if errors.As(err, &exhausted) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// ErrorTypeLabel maps an error to a metric label.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var exhausted ErrRetriesExhausted
	if errors.As(err, &exhausted) {
		return "exhausted"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var unauthorized ErrUnauthorized
	if errors.As(err, &unauthorized) {
		return "unauthorized"
	}
	var rejected ErrQueryRejected
	if errors.As(err, &rejected) {
		return "rejected"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var server ErrServer
	if errors.As(err, &server) {
		return "server"
	}
	return "other"
}

// classifyStatus converts a non-200 status into the error taxonomy.
func classifyStatus(statusCode int) error {
	cause := fmt.Errorf("http status %d %s", statusCode, http.StatusText(statusCode))
	switch {
	case statusCode == http.StatusUnauthorized:
		return ErrUnauthorized{Err: cause}
	case statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests:
		return ErrRateLimited{StatusCode: statusCode, Err: cause}
	case statusCode >= http.StatusInternalServerError:
		return ErrServer{StatusCode: statusCode, Err: cause}
	default:
		return ErrUnexpectedStatus{StatusCode: statusCode, Err: cause}
	}
}

// classifyTransport converts an error raised before any status was received.
func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	return err
}
