package llm

import (
	"context"

	"agent-mesh/internal/breaker"
	"agent-mesh/internal/ledger"
	"agent-mesh/internal/logging"
	"agent-mesh/internal/metrics"
)

// Router selects between the metered provider and the free fallback based on
// circuit breaker state, and wraps every invocation with cost tracking.
type Router struct {
	metered  Provider
	fallback Provider
	breaker  *breaker.Breaker
	ledger   *ledger.Ledger
}

// NewRouter wires the two providers to the breaker and the ledger.
func NewRouter(metered, fallback Provider, b *breaker.Breaker, l *ledger.Ledger) *Router {
	return &Router{
		metered:  metered,
		fallback: fallback,
		breaker:  b,
		ledger:   l,
	}
}

// SelectProvider asks the breaker whether the metered provider is allowed for
// this agent; denied means fallback. Pure selection, no inference happens here.
func (r *Router) SelectProvider(ctx context.Context, agentID string) (Provider, bool, string, error) {
	allowed, reason, err := r.breaker.CanExecute(ctx, agentID)
	if err != nil {
		return nil, false, "", err
	}
	if !allowed {
		return r.fallback, false, reason, nil
	}
	return r.metered, true, reason, nil
}

// InvokeWithTracking selects a provider, performs the call, and records the
// outcome:
//
//   - metered success: a CostEvent priced from the reported token usage
//     (zero when usage is absent), then RecordSuccess on the breaker.
//   - fallback success: a zero-cost CostEvent tagged with the fallback model
//     for audit continuity; the breaker is not updated.
//   - any provider error: RecordFailure on the breaker, then the error is
//     re-raised. Inference failures are never swallowed.
func (r *Router) InvokeWithTracking(ctx context.Context, agentID string, messages []Message) (string, *ledger.CostEvent, error) {
	provider, metered, reason, err := r.SelectProvider(ctx, agentID)
	if err != nil {
		return "", nil, err
	}

	if !metered {
		logging.S().Warnw("circuit open, switching to free fallback",
			"agent_id", agentID,
			"reason", reason,
			"fallback_model", provider.Model(),
		)
		metrics.Get().LLMFallbacksTotal.WithLabelValues(agentID).Inc()
	}

	resp, err := provider.Invoke(ctx, messages)
	if err != nil {
		metrics.Get().LLMRequestsTotal.WithLabelValues(provider.Model(), "error").Inc()
		if _, recordErr := r.breaker.RecordFailure(ctx, agentID, err.Error()); recordErr != nil {
			logging.S().Errorw("failed to record provider failure",
				"agent_id", agentID,
				"error", recordErr,
			)
		}
		return "", nil, &ProviderError{Provider: provider.Model(), Err: err}
	}

	metrics.Get().LLMRequestsTotal.WithLabelValues(provider.Model(), "success").Inc()

	var event *ledger.CostEvent
	if metered {
		promptTokens, completionTokens := 0, 0
		if resp.Usage != nil {
			promptTokens = resp.Usage.PromptTokens
			completionTokens = resp.Usage.CompletionTokens
		}

		event, err = r.ledger.RecordEvent(ctx, agentID, provider.Model(), promptTokens, completionTokens)
		if err != nil {
			return "", nil, err
		}

		if _, err := r.breaker.RecordSuccess(ctx, agentID); err != nil {
			return "", nil, err
		}

		m := metrics.Get()
		m.LLMTokensUsed.WithLabelValues(provider.Model(), "prompt").Add(float64(promptTokens))
		m.LLMTokensUsed.WithLabelValues(provider.Model(), "completion").Add(float64(completionTokens))
		m.LLMCostTotal.WithLabelValues(provider.Model()).Add(event.CostUSD.InexactFloat64())
	} else {
		// Zero-cost audit event: every invocation leaves a ledger trace.
		event, err = r.ledger.RecordEvent(ctx, agentID, provider.Model(), 0, 0)
		if err != nil {
			return "", nil, err
		}
	}

	return resp.Content, event, nil
}
