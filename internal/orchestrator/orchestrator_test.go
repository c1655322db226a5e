package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"agent-mesh/internal/ledger"
	"agent-mesh/internal/llm"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedInvoker returns canned responses per agent role. The synthesis call
// reuses the coordinator role, so responses for it are consumed in order.
type scriptedInvoker struct {
	responses map[string][]string
	costs     map[string]string
	failOn    string
	calls     []string
}

func (s *scriptedInvoker) InvokeWithTracking(ctx context.Context, agentID string, messages []llm.Message) (string, *ledger.CostEvent, error) {
	s.calls = append(s.calls, agentID)
	if s.failOn == agentID {
		return "", nil, errors.New("SERVICE_ERROR: provider down")
	}

	var content string
	if queue := s.responses[agentID]; len(queue) > 0 {
		content = queue[0]
		s.responses[agentID] = queue[1:]
	}

	cost := decimal.Zero
	if c, ok := s.costs[agentID]; ok {
		cost = decimal.RequireFromString(c)
	}

	return content, &ledger.CostEvent{
		EventID:   "test-event",
		AgentID:   agentID,
		ModelUsed: "llama-3.3-70b-versatile",
		CostUSD:   cost,
		Timestamp: time.Now().UTC(),
	}, nil
}

func TestExecuteQuery_DirectAnswer(t *testing.T) {
	invoker := &scriptedInvoker{
		responses: map[string][]string{
			AgentCoordinator: {"This query requires neither nor any specialist."},
		},
		costs: map[string]string{AgentCoordinator: "0.001"},
	}
	o := New(invoker)

	result, err := o.ExecuteQuery(context.Background(), "what is 2+2", false)
	require.NoError(t, err)

	assert.Equal(t, []string{AgentCoordinator}, result.AgentsUsed)
	assert.Nil(t, result.ResearcherResponse)
	assert.Nil(t, result.CoderResponse)
	assert.Equal(t, ReasonCoordinatorAnalysis, result.RoutingDecision.Reason)
	assert.False(t, result.RoutingDecision.Research)
	assert.False(t, result.RoutingDecision.Code)

	// The direct answer wraps the analysis at zero extra cost.
	assert.True(t, strings.HasPrefix(result.FinalAnswer, "**Direct Answer:**"))
	assert.Contains(t, result.FinalAnswer, "what is 2+2")
	assert.Contains(t, result.FinalAnswer, result.CoordinatorAnalysis)
	assert.True(t, result.TotalCost.Equal(decimal.RequireFromString("0.001")))

	assert.Equal(t, []string{AgentCoordinator}, invoker.calls)
}

func TestExecuteQuery_ResearchOnly(t *testing.T) {
	invoker := &scriptedInvoker{
		responses: map[string][]string{
			AgentCoordinator: {"This requires research into historical facts.", "synthesized answer"},
			AgentResearcher:  {"research findings"},
		},
		costs: map[string]string{
			AgentCoordinator: "0.001",
			AgentResearcher:  "0.002",
		},
	}
	o := New(invoker)

	result, err := o.ExecuteQuery(context.Background(), "history of redis", false)
	require.NoError(t, err)

	assert.Equal(t, []string{AgentCoordinator, AgentResearcher}, result.AgentsUsed)
	require.NotNil(t, result.ResearcherResponse)
	assert.Equal(t, "research findings", *result.ResearcherResponse)
	assert.Nil(t, result.CoderResponse)
	assert.Equal(t, "synthesized answer", result.FinalAnswer)

	// coordinator + researcher + synthesis (also coordinator cost)
	assert.True(t, result.TotalCost.Equal(decimal.RequireFromString("0.004")))
	assert.Equal(t, []string{AgentCoordinator, AgentResearcher, AgentCoordinator}, invoker.calls)
}

func TestExecuteQuery_BothSpecialists(t *testing.T) {
	invoker := &scriptedInvoker{
		responses: map[string][]string{
			AgentCoordinator: {"This requires both research and code.", "final synthesis"},
			AgentResearcher:  {"findings"},
			AgentCoder:       {"def f(): pass"},
		},
		costs: map[string]string{
			AgentCoordinator: "0.001",
			AgentResearcher:  "0.002",
			AgentCoder:       "0.003",
		},
	}
	o := New(invoker)

	result, err := o.ExecuteQuery(context.Background(), "build a redis clone", false)
	require.NoError(t, err)

	assert.Equal(t, []string{AgentCoordinator, AgentResearcher, AgentCoder}, result.AgentsUsed)
	require.NotNil(t, result.ResearcherResponse)
	require.NotNil(t, result.CoderResponse)
	assert.Equal(t, "final synthesis", result.FinalAnswer)
	assert.True(t, result.TotalCost.Equal(decimal.RequireFromString("0.007")))
}

func TestExecuteQuery_ForceAllAgents(t *testing.T) {
	invoker := &scriptedInvoker{
		responses: map[string][]string{
			// Analysis says neither, but the override wins.
			AgentCoordinator: {"This query requires neither research nor code.", "forced synthesis"},
			AgentResearcher:  {"findings"},
			AgentCoder:       {"code"},
		},
	}
	o := New(invoker)

	result, err := o.ExecuteQuery(context.Background(), "what is 2+2", true)
	require.NoError(t, err)

	assert.Equal(t, ReasonForcedAllAgents, result.RoutingDecision.Reason)
	assert.True(t, result.RoutingDecision.Research)
	assert.True(t, result.RoutingDecision.Code)
	assert.Equal(t, []string{AgentCoordinator, AgentResearcher, AgentCoder}, result.AgentsUsed)
	assert.Equal(t, "forced synthesis", result.FinalAnswer)
}

func TestExecuteQuery_CoordinatorFailureAborts(t *testing.T) {
	invoker := &scriptedInvoker{failOn: AgentCoordinator}
	o := New(invoker)

	result, err := o.ExecuteQuery(context.Background(), "anything", false)
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestExecuteQuery_SpecialistFailureAbortsPipeline(t *testing.T) {
	invoker := &scriptedInvoker{
		responses: map[string][]string{
			AgentCoordinator: {"This requires both research and code."},
			AgentResearcher:  {"findings"},
		},
		failOn: AgentCoder,
	}
	o := New(invoker)

	result, err := o.ExecuteQuery(context.Background(), "build it", false)
	assert.Error(t, err)
	assert.Nil(t, result)

	// The coder failed, so synthesis never ran.
	assert.Equal(t, []string{AgentCoordinator, AgentResearcher, AgentCoder}, invoker.calls)
}

func TestExecuteQuery_SynthesisPromptIncludesSpecialistOutput(t *testing.T) {
	var synthesisPrompt string
	invoker := &capturingInvoker{
		scripted: scriptedInvoker{
			responses: map[string][]string{
				AgentCoordinator: {"requires research into data", "done"},
				AgentResearcher:  {"key findings here"},
			},
		},
		capture: &synthesisPrompt,
	}
	o := New(invoker)

	_, err := o.ExecuteQuery(context.Background(), "tell me about redis", false)
	require.NoError(t, err)

	assert.Contains(t, synthesisPrompt, "Original Query: tell me about redis")
	assert.Contains(t, synthesisPrompt, "Researcher Findings: key findings here")
	assert.NotContains(t, synthesisPrompt, "Generated Code:")
}

// capturingInvoker records the last user message sent to the coordinator role
// after the first call, which is the synthesis prompt.
type capturingInvoker struct {
	scripted scriptedInvoker
	capture  *string
	seen     int
}

func (c *capturingInvoker) InvokeWithTracking(ctx context.Context, agentID string, messages []llm.Message) (string, *ledger.CostEvent, error) {
	if agentID == AgentCoordinator {
		c.seen++
		if c.seen > 1 && len(messages) > 0 {
			*c.capture = messages[len(messages)-1].Content
		}
	}
	return c.scripted.InvokeWithTracking(ctx, agentID, messages)
}
