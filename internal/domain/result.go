package domain

import (
	"fmt"
	"net/http"
	"strings"
)

// Outcome tags a Result. Every orchestrator operation ends in exactly one.
type Outcome string

const (
	OutcomeSuccess     Outcome = "SUCCESS"
	OutcomeNotFound    Outcome = "NOT_FOUND"
	OutcomeConflict    Outcome = "CONFLICT"
	OutcomeClientError Outcome = "CLIENT_ERROR"
	OutcomeUnavailable Outcome = "UNAVAILABLE"
)

func (o Outcome) String() string { return string(o) }

// Result is the tagged outcome of a synchronization operation.
type Result struct {
	Outcome Outcome
	Mapping *IdentityMapping
	QRCode  *QRCode
	Faces   []FaceRecord
	// Created is set when Success produced a new mapping.
	Created bool
	// Stale is set when the mapping is known to have diverged from upstream.
	Stale bool
	// Skipped is set when no upstream call was needed.
	Skipped bool
	Detail  string
}

func Success(mapping *IdentityMapping) Result {
	return Result{Outcome: OutcomeSuccess, Mapping: mapping, Stale: isStale(mapping)}
}

func Created(mapping *IdentityMapping) Result {
	return Result{Outcome: OutcomeSuccess, Mapping: mapping, Created: true}
}

func NotFound(format string, args ...any) Result {
	return Result{Outcome: OutcomeNotFound, Detail: fmt.Sprintf(format, args...)}
}

func Conflict(existing *IdentityMapping, format string, args ...any) Result {
	return Result{Outcome: OutcomeConflict, Mapping: existing, Detail: fmt.Sprintf(format, args...)}
}

func ClientError(format string, args ...any) Result {
	return Result{Outcome: OutcomeClientError, Detail: fmt.Sprintf(format, args...)}
}

func Unavailable(format string, args ...any) Result {
	return Result{Outcome: OutcomeUnavailable, Detail: fmt.Sprintf(format, args...)}
}

func (r Result) IsSuccess() bool { return r.Outcome == OutcomeSuccess }

// Retryable reports whether the caller may retry the same request later.
func (r Result) Retryable() bool { return r.Outcome == OutcomeUnavailable }

// StatusCode maps the outcome onto the transport status the routing layer returns.
func (r Result) StatusCode() int {
	switch r.Outcome {
	case OutcomeSuccess:
		if r.Created {
			return http.StatusCreated
		}
		return http.StatusOK
	case OutcomeNotFound:
		return http.StatusNotFound
	case OutcomeConflict:
		return http.StatusConflict
	case OutcomeClientError:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

func isStale(m *IdentityMapping) bool {
	return m != nil && m.State == MappingStateStale
}

// RequestOperation is the operation carried by an inbound SyncRequest.
type RequestOperation string

const (
	RequestCheck  RequestOperation = "CHECK"
	RequestCreate RequestOperation = "CREATE"
	RequestUpdate RequestOperation = "UPDATE"
	RequestDelete RequestOperation = "DELETE"
)

func ParseRequestOperation(s string) (RequestOperation, error) {
	op := RequestOperation(strings.ToUpper(strings.TrimSpace(s)))
	switch op {
	case RequestCheck, RequestCreate, RequestUpdate, RequestDelete:
		return op, nil
	}
	return "", fmt.Errorf("%w: invalid operation %q", ErrValidation, s)
}

// SyncRequest is the typed request the routing layer hands to the orchestrator.
type SyncRequest struct {
	Operation  RequestOperation
	SourceID   string
	Attributes Attributes
}
