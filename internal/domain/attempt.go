package domain

import "time"

// SyncOperation names the upstream call a SyncAttempt records.
type SyncOperation string

const (
	OperationCreate SyncOperation = "create"
	OperationUpdate SyncOperation = "update"
	OperationDelete SyncOperation = "delete"
	OperationLookup SyncOperation = "lookup"
	OperationQRCode SyncOperation = "qrcode"
)

func (o SyncOperation) String() string { return string(o) }

// AttemptOutcome is the classified result of one upstream call.
type AttemptOutcome string

const (
	AttemptSuccess AttemptOutcome = "success"
	AttemptFailure AttemptOutcome = "failure"
	AttemptTimeout AttemptOutcome = "timeout"
)

func (o AttemptOutcome) String() string { return string(o) }

// SyncAttempt records a single outbound call to the upstream platform.
type SyncAttempt struct {
	ID             string
	SourceID       string
	Operation      SyncOperation
	Outcome        AttemptOutcome
	UpstreamStatus *int
	UpstreamCode   *string
	LatencyMs      int64
	Error          *string
	AttemptedAt    time.Time
}
