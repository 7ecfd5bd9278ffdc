package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kursadbilgin/lyve-bridge/internal/breaker"
	goredis "github.com/redis/go-redis/v9"
)

const breakerKeyPrefix = "breaker:"

// acquireScript returns {kind, state, retryAfterMs}; kind is 0 reject,
// 1 normal permit, 2 trial permit. The OPEN -> HALF_OPEN flip and the trial
// reservation happen in the same script so only one caller wins the trial.
//
// KEYS[1] breaker hash
// ARGV[1] now ms, ARGV[2] recovery ms, ARGV[3] trial lease ms, ARGV[4] token
var acquireScript = goredis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if not state then
  return {1, "CLOSED", 0}
end
if state == "CLOSED" then
  return {1, state, 0}
end
local now = tonumber(ARGV[1])
if state == "OPEN" then
  local opened = tonumber(redis.call("HGET", KEYS[1], "opened_at") or "0")
  local elapsed = now - opened
  if elapsed < tonumber(ARGV[2]) then
    return {0, state, tonumber(ARGV[2]) - elapsed}
  end
  redis.call("HSET", KEYS[1], "state", "HALF_OPEN", "trial", ARGV[4], "trial_at", ARGV[1])
  return {2, "HALF_OPEN", 0}
end
local trial = redis.call("HGET", KEYS[1], "trial")
local trialAt = tonumber(redis.call("HGET", KEYS[1], "trial_at") or "0")
if trial and trial ~= "" and now - trialAt < tonumber(ARGV[3]) then
  return {0, state, 0}
end
redis.call("HSET", KEYS[1], "trial", ARGV[4], "trial_at", ARGV[1])
return {2, state, 0}
`)

// recordScript applies one call outcome and returns the resulting state.
// Trial outcomes only count while their token still owns the trial; normal
// permits only count while CLOSED.
//
// KEYS[1] breaker hash
// ARGV[1] outcome, ARGV[2] "1" for trial, ARGV[3] token, ARGV[4] now ms,
// ARGV[5] failure threshold
var recordScript = goredis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if not state then
  state = "CLOSED"
end
local outcome = ARGV[1]
if ARGV[2] == "1" then
  if state ~= "HALF_OPEN" or redis.call("HGET", KEYS[1], "trial") ~= ARGV[3] then
    return state
  end
  redis.call("HDEL", KEYS[1], "trial", "trial_at")
  if outcome == "success" then
    redis.call("HSET", KEYS[1], "state", "CLOSED", "failures", 0)
    redis.call("HDEL", KEYS[1], "opened_at")
    return "CLOSED"
  elseif outcome == "failure" then
    redis.call("HSET", KEYS[1], "state", "OPEN", "opened_at", ARGV[4])
    return "OPEN"
  end
  return state
end
if state ~= "CLOSED" then
  return state
end
if outcome == "success" then
  redis.call("HSET", KEYS[1], "state", "CLOSED", "failures", 0)
  return "CLOSED"
elseif outcome == "failure" then
  local failures = redis.call("HINCRBY", KEYS[1], "failures", 1)
  if failures >= tonumber(ARGV[5]) then
    redis.call("HSET", KEYS[1], "state", "OPEN", "opened_at", ARGV[4])
    return "OPEN"
  end
  redis.call("HSET", KEYS[1], "state", "CLOSED")
end
return "CLOSED"
`)

var _ breaker.StateStore = (*BreakerStore)(nil)

// BreakerStore shares circuit breaker state between processes through a Redis
// hash per breaker.
type BreakerStore struct {
	client  *goredis.Client
	acquire *goredis.Script
	record  *goredis.Script
}

func NewBreakerStore(client *goredis.Client) (*BreakerStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &BreakerStore{
		client:  client,
		acquire: acquireScript,
		record:  recordScript,
	}, nil
}

func breakerKey(name string) string {
	return breakerKeyPrefix + name
}

func (s *BreakerStore) Acquire(ctx context.Context, name string, policy breaker.Policy, now time.Time, token string) (breaker.Permit, error) {
	res, err := s.acquire.Run(ctx, s.client, []string{breakerKey(name)},
		now.UnixMilli(),
		policy.RecoveryTimeout.Milliseconds(),
		policy.TrialLease.Milliseconds(),
		token,
	).Slice()
	if err != nil {
		return breaker.Permit{}, fmt.Errorf("failed to acquire breaker permit: %w", err)
	}
	if len(res) != 3 {
		return breaker.Permit{}, fmt.Errorf("unexpected breaker acquire reply %v", res)
	}

	kind, _ := res[0].(int64)
	state, _ := res[1].(string)
	retryAfterMs, _ := res[2].(int64)

	permit := breaker.Permit{
		State:      breaker.State(state),
		RetryAfter: time.Duration(retryAfterMs) * time.Millisecond,
	}
	switch kind {
	case 1:
		permit.Kind = breaker.PermitNormal
	case 2:
		permit.Kind = breaker.PermitTrial
		permit.Token = token
	default:
		permit.Kind = breaker.PermitRejected
	}
	return permit, nil
}

func (s *BreakerStore) Record(ctx context.Context, name string, permit breaker.Permit, outcome breaker.Outcome, policy breaker.Policy, now time.Time) (breaker.State, error) {
	trial := "0"
	if permit.Kind == breaker.PermitTrial {
		trial = "1"
	}

	state, err := s.record.Run(ctx, s.client, []string{breakerKey(name)},
		string(outcome),
		trial,
		permit.Token,
		now.UnixMilli(),
		policy.FailureThreshold,
	).Text()
	if err != nil {
		return "", fmt.Errorf("failed to record breaker outcome: %w", err)
	}
	return breaker.State(state), nil
}

func (s *BreakerStore) Snapshot(ctx context.Context, name string) (breaker.Snapshot, error) {
	fields, err := s.client.HGetAll(ctx, breakerKey(name)).Result()
	if err != nil {
		return breaker.Snapshot{}, fmt.Errorf("failed to read breaker state: %w", err)
	}

	snapshot := breaker.Snapshot{
		Name:          name,
		State:         breaker.StateClosed,
		TrialInFlight: fields["trial"] != "",
	}
	if state := fields["state"]; state != "" {
		snapshot.State = breaker.State(state)
	}
	if failures, err := strconv.Atoi(fields["failures"]); err == nil {
		snapshot.ConsecutiveFailures = failures
	}
	if openedMs, err := strconv.ParseInt(fields["opened_at"], 10, 64); err == nil && openedMs > 0 {
		openedAt := time.UnixMilli(openedMs).UTC()
		snapshot.OpenedAt = &openedAt
	}
	return snapshot, nil
}
