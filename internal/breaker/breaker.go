// Package breaker gates calls to an unstable dependency behind a
// CLOSED / OPEN / HALF_OPEN state machine whose state lives in a StateStore,
// so that every process talking to the same dependency agrees on it.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/lyve-bridge/internal/observability"
	"go.uber.org/zap"
)

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultTrialLease       = 10 * time.Second
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

func (s State) String() string { return string(s) }

var ErrOpen = errors.New("circuit breaker is open")

// OpenError is returned when a call is rejected without reaching the
// protected dependency.
type OpenError struct {
	Name       string
	State      State
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s", e.Name, e.State)
}

func (e *OpenError) Is(target error) bool { return target == ErrOpen }

type PermitKind int

const (
	PermitRejected PermitKind = iota
	PermitNormal
	PermitTrial
)

// Permit is handed out by StateStore.Acquire. A trial permit carries the
// token that identifies the single HALF_OPEN probe.
type Permit struct {
	Kind       PermitKind
	Token      string
	State      State
	RetryAfter time.Duration
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	// OutcomeRelease gives a trial permit back without judging the
	// dependency, e.g. when the caller canceled.
	OutcomeRelease Outcome = "release"
)

type Policy struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	TrialLease       time.Duration
}

// Snapshot is a read-only view of the stored breaker state.
type Snapshot struct {
	Name                string     `json:"name"`
	State               State      `json:"state"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	OpenedAt            *time.Time `json:"openedAt,omitempty"`
	TrialInFlight       bool       `json:"trialInFlight"`
}

// StateStore owns breaker state. Acquire and Record must each be atomic with
// respect to every other caller sharing the store.
type StateStore interface {
	Acquire(ctx context.Context, name string, policy Policy, now time.Time, token string) (Permit, error)
	Record(ctx context.Context, name string, permit Permit, outcome Outcome, policy Policy, now time.Time) (State, error)
	Snapshot(ctx context.Context, name string) (Snapshot, error)
}

type Option func(*Breaker)

func WithFailureThreshold(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.policy.FailureThreshold = n
		}
	}
}

func WithRecoveryTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.policy.RecoveryTimeout = d
		}
	}
}

// WithTrialLease bounds how long a HALF_OPEN probe may hold the trial before
// another caller is allowed to start a new one. It should exceed the longest
// call fn can make; the trial is cut off at the lease either way.
func WithTrialLease(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.policy.TrialLease = d
		}
	}
}

// WithFailureClassifier decides which errors count against the breaker. Errors
// it rejects are treated as successful calls.
func WithFailureClassifier(fn func(error) bool) Option {
	return func(b *Breaker) {
		if fn != nil {
			b.isFailure = fn
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(b *Breaker) { b.metrics = metrics }
}

func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

type Breaker struct {
	name      string
	store     StateStore
	policy    Policy
	isFailure func(error) bool
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	newToken  func() string
}

func New(name string, store StateStore, opts ...Option) *Breaker {
	if store == nil {
		store = NewMemoryStore()
	}

	b := &Breaker{
		name:  name,
		store: store,
		policy: Policy{
			FailureThreshold: DefaultFailureThreshold,
			RecoveryTimeout:  DefaultRecoveryTimeout,
			TrialLease:       DefaultTrialLease,
		},
		isFailure: func(err error) bool { return err != nil },
		logger:    zap.NewNop(),
		now:       time.Now,
		newToken:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// Execute runs fn if the breaker grants a permit and records the result.
// Rejected calls return an *OpenError and never invoke fn. A trial call runs
// under a deadline equal to the trial lease. When the store is unreachable
// the breaker fails open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	logger := observability.WithContextLogger(b.logger, ctx)

	permit, err := b.store.Acquire(ctx, b.name, b.policy, b.now(), b.newToken())
	if err != nil {
		logger.Warn("breaker store unavailable, allowing call",
			zap.String("breaker", b.name),
			zap.Error(err),
		)
		return fn(ctx)
	}

	if permit.Kind == PermitRejected {
		b.metrics.IncBreakerRejected(b.name)
		b.metrics.SetBreakerState(b.name, permit.State.String())
		return &OpenError{Name: b.name, State: permit.State, RetryAfter: permit.RetryAfter}
	}
	callCtx := ctx
	if permit.Kind == PermitTrial {
		b.metrics.SetBreakerState(b.name, StateHalfOpen.String())
		logger.Info("breaker trial call started", zap.String("breaker", b.name))

		// The trial must finish before its lease lets another caller in.
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.policy.TrialLease)
		defer cancel()
	}

	callErr := fn(callCtx)

	outcome := OutcomeSuccess
	switch {
	case callErr == nil:
	case ctx.Err() != nil:
		outcome = OutcomeRelease
	case b.isFailure(callErr):
		outcome = OutcomeFailure
	}

	state, err := b.store.Record(context.WithoutCancel(ctx), b.name, permit, outcome, b.policy, b.now())
	if err != nil {
		logger.Warn("failed to record breaker outcome",
			zap.String("breaker", b.name),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
		return callErr
	}

	b.metrics.SetBreakerState(b.name, state.String())
	if state != permit.State {
		logger.Info("breaker state changed",
			zap.String("breaker", b.name),
			zap.String("from", permit.State.String()),
			zap.String("to", state.String()),
		)
	}

	return callErr
}

func (b *Breaker) Snapshot(ctx context.Context) (Snapshot, error) {
	snapshot, err := b.store.Snapshot(ctx, b.name)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read breaker state: %w", err)
	}
	return snapshot, nil
}
