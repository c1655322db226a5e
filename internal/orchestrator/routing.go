package orchestrator

import "strings"

// Routing decision reason tags.
const (
	ReasonForcedAllAgents     = "forced_all_agents"
	ReasonCoordinatorAnalysis = "coordinator_analysis"
)

// RoutingDecision records which specialists run for a query and why.
type RoutingDecision struct {
	Reason   string `json:"reason"`
	Research bool   `json:"research"`
	Code     bool   `json:"code"`
}

var (
	researchKeywords = []string{"research", "information", "facts", "data", "search"}
	codeKeywords     = []string{"code", "function", "python", "script", "program", "implement"}
)

// ParseDecision derives the routing decision from the coordinator's free-text
// analysis. Explicit "neither" short-circuits, "both" selects everything,
// otherwise research and code keyword sets are checked independently so both
// can match without the literal word "both" appearing.
func ParseDecision(analysis string) RoutingDecision {
	text := strings.ToLower(analysis)
	decision := RoutingDecision{Reason: ReasonCoordinatorAnalysis}

	if strings.Contains(text, "requires neither") || strings.Contains(text, "needs neither") {
		return decision
	}

	if strings.Contains(text, "both") {
		decision.Research = true
		decision.Code = true
		return decision
	}

	for _, w := range researchKeywords {
		if strings.Contains(text, w) {
			decision.Research = true
			break
		}
	}
	for _, w := range codeKeywords {
		if strings.Contains(text, w) {
			decision.Code = true
			break
		}
	}
	return decision
}
