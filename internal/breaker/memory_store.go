package breaker

import (
	"context"
	"sync"
	"time"
)

type memoryState struct {
	state    State
	failures int
	openedAt time.Time
	trial    string
	trialAt  time.Time
}

// MemoryStore keeps breaker state in-process behind a single mutex. It is
// only shared by breakers in the same process.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*memoryState
}

var _ StateStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*memoryState)}
}

func (m *MemoryStore) get(name string) *memoryState {
	st, ok := m.states[name]
	if !ok {
		st = &memoryState{state: StateClosed}
		m.states[name] = st
	}
	return st
}

func (m *MemoryStore) Acquire(_ context.Context, name string, policy Policy, now time.Time, token string) (Permit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.get(name)
	switch st.state {
	case StateOpen:
		elapsed := now.Sub(st.openedAt)
		if elapsed < policy.RecoveryTimeout {
			return Permit{Kind: PermitRejected, State: StateOpen, RetryAfter: policy.RecoveryTimeout - elapsed}, nil
		}
		st.state = StateHalfOpen
		st.trial = token
		st.trialAt = now
		return Permit{Kind: PermitTrial, Token: token, State: StateHalfOpen}, nil
	case StateHalfOpen:
		if st.trial != "" && now.Sub(st.trialAt) < policy.TrialLease {
			return Permit{Kind: PermitRejected, State: StateHalfOpen}, nil
		}
		st.trial = token
		st.trialAt = now
		return Permit{Kind: PermitTrial, Token: token, State: StateHalfOpen}, nil
	default:
		return Permit{Kind: PermitNormal, State: StateClosed}, nil
	}
}

func (m *MemoryStore) Record(_ context.Context, name string, permit Permit, outcome Outcome, policy Policy, now time.Time) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.get(name)

	if permit.Kind == PermitTrial {
		if st.state != StateHalfOpen || st.trial != permit.Token {
			return st.state, nil
		}
		st.trial = ""
		st.trialAt = time.Time{}
		switch outcome {
		case OutcomeSuccess:
			st.state = StateClosed
			st.failures = 0
			st.openedAt = time.Time{}
		case OutcomeFailure:
			st.state = StateOpen
			st.openedAt = now
		}
		return st.state, nil
	}

	if st.state != StateClosed {
		return st.state, nil
	}
	switch outcome {
	case OutcomeSuccess:
		st.failures = 0
	case OutcomeFailure:
		st.failures++
		if st.failures >= policy.FailureThreshold {
			st.state = StateOpen
			st.openedAt = now
		}
	}
	return st.state, nil
}

func (m *MemoryStore) Snapshot(_ context.Context, name string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.get(name)
	snapshot := Snapshot{
		Name:                name,
		State:               st.state,
		ConsecutiveFailures: st.failures,
		TrialInFlight:       st.trial != "",
	}
	if !st.openedAt.IsZero() {
		openedAt := st.openedAt
		snapshot.OpenedAt = &openedAt
	}
	return snapshot, nil
}
