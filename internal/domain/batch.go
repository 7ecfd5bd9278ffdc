package domain

import "time"

// BatchStatus represents the processing state of a batch.
type BatchStatus string

const (
	BatchStatusProcessing     BatchStatus = "PROCESSING"
	BatchStatusCompleted      BatchStatus = "COMPLETED"
	BatchStatusPartialFailure BatchStatus = "PARTIAL_FAILURE"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusProcessing, BatchStatusCompleted, BatchStatusPartialFailure:
		return true
	}
	return false
}

// Batch groups create requests submitted together.
type Batch struct {
	ID             string
	TotalCount     int
	SucceededCount int
	FailedCount    int
	Status         BatchStatus
	// Items is ordered by Index and empty while the batch is PROCESSING.
	Items     []BatchItemOutcome
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BatchItemOutcome is the recorded result of one batch entry.
type BatchItemOutcome struct {
	Index      int
	SourceID   string
	Outcome    Outcome
	StatusCode int
	Detail     string
}
