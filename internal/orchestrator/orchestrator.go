// Package orchestrator runs the coordinator/researcher/coder pipeline for a
// user query. The coordinator always runs; the specialists run conditionally
// on its analysis; a synthesis step merges specialist output when any ran.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"agent-mesh/internal/ledger"
	"agent-mesh/internal/llm"
	"agent-mesh/internal/logging"

	"github.com/shopspring/decimal"
)

// Fixed role identifiers. Cost and breaker state are tracked per role, so the
// coordinator can keep working after the coder's budget is exhausted.
const (
	AgentCoordinator = "coordinator"
	AgentResearcher  = "researcher"
	AgentCoder       = "coder"
)

var systemPrompts = map[string]string{
	AgentCoordinator: "Analyze user query and decide which agents to invoke",
	AgentResearcher:  "Search and provide factual information",
	AgentCoder:       "Generate Python code solutions",
}

// Invoker is the routed inference surface the orchestrator depends on.
type Invoker interface {
	InvokeWithTracking(ctx context.Context, agentID string, messages []llm.Message) (string, *ledger.CostEvent, error)
}

// Result aggregates every step of one orchestrated query.
type Result struct {
	CoordinatorAnalysis string          `json:"coordinator_analysis"`
	ResearcherResponse  *string         `json:"researcher_response"`
	CoderResponse       *string         `json:"coder_response"`
	FinalAnswer         string          `json:"final_answer"`
	TotalCost           decimal.Decimal `json:"total_cost"`
	AgentsUsed          []string        `json:"agents_used"`
	RoutingDecision     RoutingDecision `json:"routing_decision"`
}

// Orchestrator dispatches a three-role pipeline through the router.
type Orchestrator struct {
	invoker Invoker
}

// New creates an Orchestrator on top of a routed invoker.
func New(invoker Invoker) *Orchestrator {
	return &Orchestrator{invoker: invoker}
}

// ExecuteQuery runs the full pipeline. Any step's provider error aborts the
// remaining pipeline and propagates unmodified; partial results are not
// returned.
func (o *Orchestrator) ExecuteQuery(ctx context.Context, userQuery string, forceAllAgents bool) (*Result, error) {
	result := &Result{
		TotalCost:  decimal.Zero,
		AgentsUsed: []string{},
	}

	analysis, coordEvent, err := o.invokeCoordinator(ctx, userQuery)
	if err != nil {
		return nil, err
	}
	result.CoordinatorAnalysis = analysis
	result.TotalCost = result.TotalCost.Add(coordEvent.CostUSD)
	result.AgentsUsed = append(result.AgentsUsed, AgentCoordinator)

	if forceAllAgents {
		result.RoutingDecision = RoutingDecision{
			Reason:   ReasonForcedAllAgents,
			Research: true,
			Code:     true,
		}
	} else {
		result.RoutingDecision = ParseDecision(analysis)
	}

	logging.S().Infow("routing decision",
		"reason", result.RoutingDecision.Reason,
		"research", result.RoutingDecision.Research,
		"code", result.RoutingDecision.Code,
	)

	if result.RoutingDecision.Research {
		response, event, err := o.invokeResearcher(ctx, userQuery)
		if err != nil {
			return nil, err
		}
		result.ResearcherResponse = &response
		result.TotalCost = result.TotalCost.Add(event.CostUSD)
		result.AgentsUsed = append(result.AgentsUsed, AgentResearcher)
	}

	if result.RoutingDecision.Code {
		response, event, err := o.invokeCoder(ctx, userQuery)
		if err != nil {
			return nil, err
		}
		result.CoderResponse = &response
		result.TotalCost = result.TotalCost.Add(event.CostUSD)
		result.AgentsUsed = append(result.AgentsUsed, AgentCoder)
	}

	if result.RoutingDecision.Research || result.RoutingDecision.Code {
		answer, event, err := o.synthesize(ctx, userQuery, result)
		if err != nil {
			return nil, err
		}
		result.FinalAnswer = answer
		result.TotalCost = result.TotalCost.Add(event.CostUSD)
	} else {
		// Simple queries reuse the analysis as the answer at zero extra cost.
		result.FinalAnswer = directAnswer(analysis, userQuery)
	}

	return result, nil
}

func (o *Orchestrator) invokeCoordinator(ctx context.Context, userQuery string) (string, *ledger.CostEvent, error) {
	prompt := fmt.Sprintf(`Analyze this query and determine if it needs: research, code, both, or neither.
Be specific in your reasoning.

For simple queries (basic math, definitions, yes/no questions), explicitly state "requires neither research nor code".
For research queries (explanations, facts, information), state "requires research".
For coding queries (functions, scripts, implementations), state "requires code".
For complex queries needing both, state "requires both research and code".

Query: %s`, userQuery)

	return o.invoker.InvokeWithTracking(ctx, AgentCoordinator, []llm.Message{
		{Role: "system", Content: systemPrompts[AgentCoordinator]},
		{Role: "user", Content: prompt},
	})
}

func (o *Orchestrator) invokeResearcher(ctx context.Context, userQuery string) (string, *ledger.CostEvent, error) {
	return o.invoker.InvokeWithTracking(ctx, AgentResearcher, []llm.Message{
		{Role: "system", Content: systemPrompts[AgentResearcher]},
		{Role: "user", Content: "Research and provide information about: " + userQuery},
	})
}

func (o *Orchestrator) invokeCoder(ctx context.Context, userQuery string) (string, *ledger.CostEvent, error) {
	return o.invoker.InvokeWithTracking(ctx, AgentCoder, []llm.Message{
		{Role: "system", Content: systemPrompts[AgentCoder]},
		{Role: "user", Content: "Generate Python code for: " + userQuery},
	})
}

// synthesize folds the coordinator plan and specialist outputs into one prompt
// and asks the coordinator role for the final answer.
func (o *Orchestrator) synthesize(ctx context.Context, userQuery string, result *Result) (string, *ledger.CostEvent, error) {
	parts := []string{
		"Original Query: " + userQuery,
		"Coordinator Plan: " + result.CoordinatorAnalysis,
	}
	if result.ResearcherResponse != nil {
		parts = append(parts, "Researcher Findings: "+*result.ResearcherResponse)
	}
	if result.CoderResponse != nil {
		parts = append(parts, "Generated Code: "+*result.CoderResponse)
	}
	parts = append(parts, "Please synthesize these results into a helpful, final answer for the user.")

	return o.invoker.InvokeWithTracking(ctx, AgentCoordinator, []llm.Message{
		{Role: "system", Content: "Synthesize the provided information into a clear final answer."},
		{Role: "user", Content: strings.Join(parts, "\n\n")},
	})
}

func directAnswer(analysis, query string) string {
	return fmt.Sprintf("**Direct Answer:**\n\nBased on the query %q, the answer can be provided immediately:\n\n%s\n\n*Note: This query did not require specialized research or code generation agents.*", query, analysis)
}
