// Package ledger is the financial controller of the agent mesh. It prices
// inference events, appends an immutable per-agent event history, and keeps
// a per-agent running total in the external store.
//
// The history append (RPUSH) and the total increment (INCRBYFLOAT) are two
// separate store operations with no transaction between them. If the process
// dies between the two, history and total diverge by one event; this is a
// documented at-least-once/best-effort gap, not silently reconciled.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agent-mesh/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	costKeyPrefix  = "agent_cost:"
	eventKeyPrefix = "cost_events:"
)

// Validation errors. Rejected before any state mutation.
var (
	ErrInvalidTokenCount = errors.New("ledger: token counts must be non-negative")
	ErrEmptyAgentID      = errors.New("ledger: agent id must not be empty")
)

// CostEvent is the immutable record of one completed inference.
type CostEvent struct {
	EventID          string          `json:"event_id"`
	AgentID          string          `json:"agent_id"`
	ModelUsed        string          `json:"model_used"`
	TokensPrompt     int             `json:"tokens_prompt"`
	TokensCompletion int             `json:"tokens_completion"`
	CostUSD          decimal.Decimal `json:"cost_usd"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Ledger tracks token usage and USD spend per agent.
type Ledger struct {
	store    store.Store
	registry *Registry
}

// New creates a Ledger with the default pricing registry.
func New(s store.Store) *Ledger {
	return NewWithRegistry(s, DefaultRegistry())
}

// NewWithRegistry creates a Ledger with a custom pricing registry.
func NewWithRegistry(s store.Store, r *Registry) *Ledger {
	return &Ledger{store: s, registry: r}
}

// CalculateCost prices an inference without recording anything.
func (l *Ledger) CalculateCost(model string, promptTokens, completionTokens int) (decimal.Decimal, error) {
	if promptTokens < 0 || completionTokens < 0 {
		return decimal.Zero, ErrInvalidTokenCount
	}
	return l.registry.Cost(model, promptTokens, completionTokens), nil
}

// RecordEvent prices the inference, appends the event to the agent's history,
// and atomically adds the cost to the agent's running total.
func (l *Ledger) RecordEvent(ctx context.Context, agentID, model string, promptTokens, completionTokens int) (*CostEvent, error) {
	if agentID == "" {
		return nil, ErrEmptyAgentID
	}
	cost, err := l.CalculateCost(model, promptTokens, completionTokens)
	if err != nil {
		return nil, err
	}

	event := &CostEvent{
		EventID:          uuid.New().String(),
		AgentID:          agentID,
		ModelUsed:        model,
		TokensPrompt:     promptTokens,
		TokensCompletion: completionTokens,
		CostUSD:          cost,
		Timestamp:        time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to encode event: %w", err)
	}
	if err := l.store.RPush(ctx, eventKeyPrefix+agentID, string(payload)); err != nil {
		return nil, err
	}

	if _, err := l.store.IncrByFloat(ctx, costKeyPrefix+agentID, cost.InexactFloat64()); err != nil {
		return nil, err
	}

	return event, nil
}

// TotalSpend returns the agent's running total, zero if nothing recorded yet.
func (l *Ledger) TotalSpend(ctx context.Context, agentID string) (decimal.Decimal, error) {
	raw, err := l.store.Get(ctx, costKeyPrefix+agentID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	total, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: corrupt total for agent %s: %w", agentID, err)
	}
	return total, nil
}

// History returns up to limit most recent events for an agent, oldest first.
// A limit <= 0 returns the full history.
func (l *Ledger) History(ctx context.Context, agentID string, limit int64) ([]CostEvent, error) {
	start := int64(0)
	if limit > 0 {
		start = -limit
	}
	raw, err := l.store.LRange(ctx, eventKeyPrefix+agentID, start, -1)
	if err != nil {
		return nil, err
	}

	events := make([]CostEvent, 0, len(raw))
	for _, item := range raw {
		var event CostEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			return nil, fmt.Errorf("ledger: corrupt event for agent %s: %w", agentID, err)
		}
		events = append(events, event)
	}
	return events, nil
}

// EventCount returns the number of recorded events for an agent.
func (l *Ledger) EventCount(ctx context.Context, agentID string) (int64, error) {
	return l.store.LLen(ctx, eventKeyPrefix+agentID)
}
