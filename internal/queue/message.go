package queue

import (
	"fmt"
	"strings"
)

const (
	ReasonStale          = "stale"
	ReasonUpstreamAbsent = "upstream_not_found"
)

// ReconcileMessage asks a worker to bring one identity back in sync.
type ReconcileMessage struct {
	SourceID      string `json:"sourceId"`
	CorrelationID string `json:"correlationId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func (m ReconcileMessage) Validate() error {
	if strings.TrimSpace(m.SourceID) == "" {
		return fmt.Errorf("sourceId is required")
	}
	return nil
}
