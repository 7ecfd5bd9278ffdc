package domain

import (
	"fmt"
	"strings"
	"time"
)

// MappingState represents the lifecycle state of an identity mapping.
type MappingState string

const (
	MappingStatePending MappingState = "PENDING"
	MappingStateSynced  MappingState = "SYNCED"
	MappingStateStale   MappingState = "STALE"
	MappingStateDeleted MappingState = "DELETED"
)

func (s MappingState) String() string { return string(s) }

func (s MappingState) IsValid() bool {
	switch s {
	case MappingStatePending, MappingStateSynced, MappingStateStale, MappingStateDeleted:
		return true
	}
	return false
}

func ParseMappingStateFromString(s string) (MappingState, error) {
	st := MappingState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid mapping state %q", ErrValidation, s)
	}
	return st, nil
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// PENDING -> SYNCED -> {STALE -> SYNCED}* -> DELETED.
func (s MappingState) CanTransitionTo(next MappingState) bool {
	switch s {
	case MappingStatePending:
		return next == MappingStateSynced
	case MappingStateSynced:
		return next == MappingStateSynced || next == MappingStateStale || next == MappingStateDeleted
	case MappingStateStale:
		return next == MappingStateSynced || next == MappingStateStale || next == MappingStateDeleted
	}
	return false
}

// IdentityMapping binds a source-system identifier to the upstream person.
type IdentityMapping struct {
	ID             string
	SourceID       string
	TargetID       *string
	PersonCode     string
	Attributes     Attributes
	AttributesHash string
	State          MappingState
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (m *IdentityMapping) TargetIDValue() string {
	if m == nil || m.TargetID == nil {
		return ""
	}
	return *m.TargetID
}

// PersonCodeFor derives the upstream person code for a source identifier.
func PersonCodeFor(prefix string, sourceID string) string {
	return prefix + strings.TrimSpace(sourceID)
}
