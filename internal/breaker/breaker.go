// Package breaker implements the per-agent circuit breaker that guards the
// metered provider. A breaker trips OPEN after repeated failures or budget
// exhaustion and self-heals through HALF_OPEN after a cooldown.
//
// State lives in one store hash per agent and is re-read on every operation;
// there is no cross-operation transaction. Two concurrent requests can both
// pass CheckBudget just before the total crosses the limit; the breaker is
// a soft governor and that race is part of its contract.
package breaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"agent-mesh/internal/ledger"
	"agent-mesh/internal/logging"
	"agent-mesh/internal/metrics"
	"agent-mesh/internal/store"

	"github.com/shopspring/decimal"
)

const (
	keyPrefix = "circuit_breaker:"

	// failureThreshold is the consecutive-failure count that trips the breaker.
	failureThreshold = 3
)

// Status is the breaker state machine position.
type Status string

const (
	StatusClosed   Status = "closed"    // normal operation
	StatusOpen     Status = "open"      // tripped: too many errors or budget exceeded
	StatusHalfOpen Status = "half_open" // testing recovery
)

// State is the persisted breaker state for one agent.
type State struct {
	AgentID             string          `json:"agent_id"`
	Status              Status          `json:"status"`
	FailureCount        int             `json:"failure_count"`
	BudgetLimitUSD      decimal.Decimal `json:"budget_limit_usd"`
	BudgetConsumedUSD   decimal.Decimal `json:"budget_consumed_usd"`
	FallbackModel       string          `json:"fallback_model"`
	LastFailureTime     *time.Time      `json:"last_failure_time,omitempty"`
	ResetTimeoutSeconds int             `json:"reset_timeout_seconds"`
}

// Config sets the defaults applied when an agent's state is first created.
type Config struct {
	BudgetLimitUSD      decimal.Decimal
	ResetTimeoutSeconds int
	FallbackModel       string
}

// DefaultConfig returns the stock breaker defaults: $5.00 budget, 60s cooldown.
func DefaultConfig() Config {
	return Config{
		BudgetLimitUSD:      decimal.RequireFromString("5.00"),
		ResetTimeoutSeconds: 60,
		FallbackModel:       "ollama/llama3.1:8b",
	}
}

// Breaker manages per-agent circuit state. BudgetConsumedUSD in the persisted
// state is a cached snapshot of the ledger total taken at the last CheckBudget;
// the ledger remains the sole source of truth for spend.
type Breaker struct {
	store  store.Store
	ledger *ledger.Ledger
	config Config
}

// New creates a Breaker with default config.
func New(s store.Store, l *ledger.Ledger) *Breaker {
	return NewWithConfig(s, l, DefaultConfig())
}

// NewWithConfig creates a Breaker with explicit defaults for new agents.
func NewWithConfig(s store.Store, l *ledger.Ledger, config Config) *Breaker {
	return &Breaker{store: s, ledger: l, config: config}
}

// GetState fetches the current state for an agent, initializing a default
// CLOSED state on first access. Two concurrent initializations both write the
// same defaults; last-writer-wins is acceptable for this low-stakes write.
func (b *Breaker) GetState(ctx context.Context, agentID string) (*State, error) {
	fields, err := b.store.HGetAll(ctx, keyPrefix+agentID)
	if err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		state := &State{
			AgentID:             agentID,
			Status:              StatusClosed,
			FailureCount:        0,
			BudgetLimitUSD:      b.config.BudgetLimitUSD,
			BudgetConsumedUSD:   decimal.Zero,
			FallbackModel:       b.config.FallbackModel,
			ResetTimeoutSeconds: b.config.ResetTimeoutSeconds,
		}
		if err := b.saveState(ctx, state); err != nil {
			return nil, err
		}
		return state, nil
	}

	return decodeState(agentID, fields)
}

// RecordSuccess zeroes the failure count and closes a half-open circuit.
// LastFailureTime is deliberately left in place: it gates the OPEN cooldown
// and must survive intervening successes.
func (b *Breaker) RecordSuccess(ctx context.Context, agentID string) (*State, error) {
	state, err := b.GetState(ctx, agentID)
	if err != nil {
		return nil, err
	}

	state.FailureCount = 0
	if state.Status == StatusHalfOpen {
		b.transition(state, StatusClosed)
	}

	if err := b.saveState(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// RecordFailure increments the failure count, stamps the failure time, and
// trips the breaker OPEN at the threshold. The reason is logged for
// observability only; it does not affect the transition.
func (b *Breaker) RecordFailure(ctx context.Context, agentID, reason string) (*State, error) {
	state, err := b.GetState(ctx, agentID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	state.FailureCount++
	state.LastFailureTime = &now

	if state.FailureCount >= failureThreshold || state.Status == StatusHalfOpen {
		b.transition(state, StatusOpen)
	}

	if err := b.saveState(ctx, state); err != nil {
		return nil, err
	}

	metrics.Get().BreakerFailuresTotal.WithLabelValues(agentID).Inc()
	logging.S().Warnw("circuit breaker recorded failure",
		"agent_id", agentID,
		"reason", reason,
		"failure_count", state.FailureCount,
		"status", state.Status,
	)
	return state, nil
}

// CheckBudget re-reads the authoritative total from the ledger, caches it in
// the breaker state, and trips CLOSED→OPEN when consumed >= limit. This is
// the only path by which spend trips the breaker.
func (b *Breaker) CheckBudget(ctx context.Context, agentID string) (*State, error) {
	state, err := b.GetState(ctx, agentID)
	if err != nil {
		return nil, err
	}

	total, err := b.ledger.TotalSpend(ctx, agentID)
	if err != nil {
		return nil, err
	}
	state.BudgetConsumedUSD = total

	if state.Status == StatusClosed && state.BudgetConsumedUSD.GreaterThanOrEqual(state.BudgetLimitUSD) {
		b.transition(state, StatusOpen)
	}

	if err := b.saveState(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// CanExecute is the gatekeeper for the metered provider. The budget is synced
// first so a just-exhausted budget is caught on this call, then the fresh
// state decides: CLOSED and HALF_OPEN allow, OPEN allows only once the
// cooldown since the last failure has elapsed (switching to HALF_OPEN).
func (b *Breaker) CanExecute(ctx context.Context, agentID string) (bool, string, error) {
	if _, err := b.CheckBudget(ctx, agentID); err != nil {
		return false, "", err
	}

	state, err := b.GetState(ctx, agentID)
	if err != nil {
		return false, "", err
	}

	switch state.Status {
	case StatusClosed:
		return true, "circuit closed", nil

	case StatusHalfOpen:
		return true, "circuit half-open - testing recovery", nil

	case StatusOpen:
		if state.LastFailureTime != nil {
			elapsed := time.Now().UTC().Sub(*state.LastFailureTime)
			if elapsed >= time.Duration(state.ResetTimeoutSeconds)*time.Second {
				b.transition(state, StatusHalfOpen)
				if err := b.saveState(ctx, state); err != nil {
					return false, "", err
				}
				return true, "timeout elapsed - switching to half-open", nil
			}
		}
		return false, "circuit open - use fallback", nil
	}

	return false, fmt.Sprintf("unknown circuit state %q", state.Status), nil
}

func (b *Breaker) transition(state *State, to Status) {
	if state.Status == to {
		return
	}
	state.Status = to
	metrics.Get().BreakerTransitionsTotal.WithLabelValues(string(to)).Inc()
}

func (b *Breaker) saveState(ctx context.Context, state *State) error {
	fields := map[string]string{
		"agent_id":              state.AgentID,
		"status":                string(state.Status),
		"failure_count":         strconv.Itoa(state.FailureCount),
		"budget_limit_usd":      state.BudgetLimitUSD.String(),
		"budget_consumed_usd":   state.BudgetConsumedUSD.String(),
		"fallback_model":        state.FallbackModel,
		"reset_timeout_seconds": strconv.Itoa(state.ResetTimeoutSeconds),
	}
	// Null fields are omitted rather than stored empty.
	if state.LastFailureTime != nil {
		fields["last_failure_time"] = state.LastFailureTime.Format(time.RFC3339Nano)
	}
	return b.store.HSet(ctx, keyPrefix+state.AgentID, fields)
}

func decodeState(agentID string, fields map[string]string) (*State, error) {
	state := &State{AgentID: agentID, Status: StatusClosed}

	if v, ok := fields["status"]; ok {
		state.Status = Status(v)
	}
	if v, ok := fields["failure_count"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("breaker: corrupt failure_count for agent %s: %w", agentID, err)
		}
		state.FailureCount = n
	}
	if v, ok := fields["budget_limit_usd"]; ok {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("breaker: corrupt budget_limit_usd for agent %s: %w", agentID, err)
		}
		state.BudgetLimitUSD = d
	}
	if v, ok := fields["budget_consumed_usd"]; ok {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("breaker: corrupt budget_consumed_usd for agent %s: %w", agentID, err)
		}
		state.BudgetConsumedUSD = d
	}
	if v, ok := fields["fallback_model"]; ok {
		state.FallbackModel = v
	}
	if v, ok := fields["reset_timeout_seconds"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("breaker: corrupt reset_timeout_seconds for agent %s: %w", agentID, err)
		}
		state.ResetTimeoutSeconds = n
	}
	if v, ok := fields["last_failure_time"]; ok && v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("breaker: corrupt last_failure_time for agent %s: %w", agentID, err)
		}
		state.LastFailureTime = &t
	}

	return state, nil
}
