package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Rate is the per-1M-token pricing for a model.
type Rate struct {
	InputPer1M  decimal.Decimal
	OutputPer1M decimal.Decimal
}

// blended is the undiscounted sum of both directions, used to rank entries
// when picking the fail-safe rate.
func (r Rate) blended() decimal.Decimal {
	return r.InputPer1M.Add(r.OutputPer1M)
}

// PricingEntry binds a model matcher to a rate. Matchers are evaluated in
// declaration order: exact match first across the whole registry, then
// substring containment, first hit wins.
type PricingEntry struct {
	Match string
	Rate  Rate
}

// Registry resolves model identifiers to rates. Unknown models resolve to
// the most expensive registered rate so an unknown model is never
// under-billed.
type Registry struct {
	entries  []PricingEntry
	failsafe Rate
}

// NewRegistry builds a registry from an ordered entry list. The fail-safe
// rate is the most expensive entry by blended per-token price.
func NewRegistry(entries []PricingEntry) *Registry {
	r := &Registry{entries: entries}
	for _, e := range entries {
		if e.Rate.blended().GreaterThan(r.failsafe.blended()) {
			r.failsafe = e.Rate
		}
	}
	return r
}

// DefaultRegistry returns pricing for the models the mesh routes to.
// Prices are USD per 1 million tokens.
func DefaultRegistry() *Registry {
	return NewRegistry([]PricingEntry{
		// High-intelligence metered model (Groq)
		{Match: "llama-3.3-70b-versatile", Rate: Rate{
			InputPer1M:  decimal.RequireFromString("0.59"),
			OutputPer1M: decimal.RequireFromString("0.79"),
		}},
		// Fast/budget metered model (Groq)
		{Match: "llama-3.1-8b-instant", Rate: Rate{
			InputPer1M:  decimal.RequireFromString("0.05"),
			OutputPer1M: decimal.RequireFromString("0.08"),
		}},
		// Local fallback (Ollama), free
		{Match: "ollama/llama3.1:8b", Rate: Rate{
			InputPer1M:  decimal.Zero,
			OutputPer1M: decimal.Zero,
		}},
	})
}

// Resolve returns the rate for a model identifier: exact match, then
// substring containment in declaration order (so "groq/llama-3.3-70b-versatile"
// matches the "llama-3.3-70b-versatile" entry), then the fail-safe.
func (r *Registry) Resolve(model string) Rate {
	for _, e := range r.entries {
		if e.Match == model {
			return e.Rate
		}
	}
	for _, e := range r.entries {
		if strings.Contains(model, e.Match) {
			return e.Rate
		}
	}
	return r.failsafe
}

// Failsafe returns the rate applied to unknown models.
func (r *Registry) Failsafe() Rate {
	return r.failsafe
}

var oneMillion = decimal.NewFromInt(1_000_000)

// Cost computes the USD cost of an inference in decimal arithmetic:
// promptTokens/1e6 * input rate + completionTokens/1e6 * output rate.
func (r *Registry) Cost(model string, promptTokens, completionTokens int) decimal.Decimal {
	rate := r.Resolve(model)
	inputCost := decimal.NewFromInt(int64(promptTokens)).Div(oneMillion).Mul(rate.InputPer1M)
	outputCost := decimal.NewFromInt(int64(completionTokens)).Div(oneMillion).Mul(rate.OutputPer1M)
	return inputCost.Add(outputCost)
}
