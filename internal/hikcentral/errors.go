package hikcentral

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies an upstream failure.
type Kind string

const (
	KindTransient Kind = "transient"
	KindDuplicate Kind = "duplicate"
	KindNotFound  Kind = "not_found"
	KindRejected  Kind = "rejected"
)

// UpstreamError is returned for every failed HikCentral call.
type UpstreamError struct {
	Kind       Kind
	StatusCode int
	// Code is the Artemis envelope code, empty for transport-level failures.
	Code    string
	Message string
	Cause   error
}

func (e *UpstreamError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, "hikcentral error", string(e.Kind))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *UpstreamError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error should count against the circuit
// breaker and may succeed if the caller retries later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return upstreamErr.Kind == KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

func IsDuplicate(err error) bool { return hasKind(err, KindDuplicate) }

func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

func IsRejected(err error) bool { return hasKind(err, KindRejected) }

func hasKind(err error, kind Kind) bool {
	var upstreamErr *UpstreamError
	return errors.As(err, &upstreamErr) && upstreamErr.Kind == kind
}

func kindForHTTPStatus(statusCode int) Kind {
	switch {
	case statusCode == http.StatusTooManyRequests, statusCode >= http.StatusInternalServerError:
		return KindTransient
	case statusCode == http.StatusConflict:
		return KindDuplicate
	case statusCode == http.StatusNotFound:
		return KindNotFound
	default:
		return KindRejected
	}
}
