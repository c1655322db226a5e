// Package handlers exposes the HTTP API: cost ingestion, per-agent spend and
// circuit inspection, direct chat, and the orchestrated multi-agent query.
package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"agent-mesh/internal/breaker"
	"agent-mesh/internal/ledger"
	"agent-mesh/internal/llm"
	"agent-mesh/internal/orchestrator"
	"agent-mesh/internal/store"

	"github.com/gin-gonic/gin"
)

// Handler bundles the service dependencies behind the HTTP surface.
type Handler struct {
	store        store.Store
	ledger       *ledger.Ledger
	breaker      *breaker.Breaker
	router       *llm.Router
	orchestrator *orchestrator.Orchestrator
}

// New creates a Handler.
func New(s store.Store, l *ledger.Ledger, b *breaker.Breaker, r *llm.Router, o *orchestrator.Orchestrator) *Handler {
	return &Handler{
		store:        s,
		ledger:       l,
		breaker:      b,
		router:       r,
		orchestrator: o,
	}
}

// RegisterRoutes wires every endpoint onto the engine.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.GET("/agents", h.ListAgents)
		api.POST("/cost-events", h.RecordCostEvent)
		api.GET("/agents/:agent_id/cost", h.GetAgentCost)
		api.GET("/agents/:agent_id/events", h.GetAgentEvents)
		api.GET("/agents/:agent_id/circuit", h.GetCircuitState)
		api.POST("/agents/:agent_id/circuit/check-budget", h.CheckBudget)
		api.POST("/agents/:agent_id/chat", h.ChatAgent)
		api.POST("/chat", h.SimpleChat)
		api.POST("/query", h.ExecuteQuery)
	}
}

// Health reports service liveness and the feature set.
func (h *Handler) Health(c *gin.Context) {
	status := "ok"
	if err := h.store.Ping(c.Request.Context()); err != nil {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"features": []string{
			"cost_tracking",
			"circuit_breaker",
			"llm_routing",
			"multi_agent_orchestration",
			"simple_chat",
		},
	})
}

// ListAgents returns the circuit state of every agent known to the store.
func (h *Handler) ListAgents(c *gin.Context) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := h.store.Scan(c.Request.Context(), cursor, "circuit_breaker:*", 100)
		if err != nil {
			internalError(c, err)
			return
		}
		keys = append(keys, batch...)
		if next == 0 {
			break
		}
		cursor = next
	}

	agents := make([]*breaker.State, 0, len(keys))
	for _, key := range keys {
		agentID := strings.TrimPrefix(key, "circuit_breaker:")
		state, err := h.breaker.GetState(c.Request.Context(), agentID)
		if err != nil {
			internalError(c, err)
			return
		}
		agents = append(agents, state)
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	c.JSON(http.StatusOK, agents)
}

// CreateCostEventRequest is the ingestion payload. The service prices the
// event itself; callers never supply a cost.
type CreateCostEventRequest struct {
	AgentID          string `json:"agent_id" binding:"required"`
	Model            string `json:"model" binding:"required"`
	TokensPrompt     int    `json:"tokens_prompt"`
	TokensCompletion int    `json:"tokens_completion"`
}

// RecordCostEvent ingests usage data, prices it, and updates the agent total.
func (h *Handler) RecordCostEvent(c *gin.Context) {
	var req CreateCostEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}

	event, err := h.ledger.RecordEvent(c.Request.Context(), req.AgentID, req.Model, req.TokensPrompt, req.TokensCompletion)
	if err == ledger.ErrInvalidTokenCount {
		badRequest(c, "Token counts must be non-negative")
		return
	}
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// GetAgentCost returns the cumulative spend for one agent.
func (h *Handler) GetAgentCost(c *gin.Context) {
	agentID := c.Param("agent_id")
	total, err := h.ledger.TotalSpend(c.Request.Context(), agentID)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id":       agentID,
		"total_cost_usd": total,
	})
}

// GetAgentEvents returns the agent's event history, oldest first. A "limit"
// query parameter bounds it to the most recent N events.
func (h *Handler) GetAgentEvents(c *gin.Context) {
	agentID := c.Param("agent_id")

	limit := int64(0)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	events, err := h.ledger.History(c.Request.Context(), agentID, limit)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"agent_id": agentID,
		"events":   events,
		"count":    len(events),
	})
}

// GetCircuitState returns the breaker state, initializing defaults on first
// access.
func (h *Handler) GetCircuitState(c *gin.Context) {
	state, err := h.breaker.GetState(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// CheckBudget syncs the breaker's budget snapshot from the ledger and trips
// the circuit if the limit is reached.
func (h *Handler) CheckBudget(c *gin.Context) {
	state, err := h.breaker.CheckBudget(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// ChatRequest carries a full message history for one agent chat turn.
type ChatRequest struct {
	Messages []llm.Message `json:"messages" binding:"required"`
}

// ChatAgent routes one chat turn through the breaker-aware router.
func (h *Handler) ChatAgent(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}

	content, event, err := h.router.InvokeWithTracking(c.Request.Context(), c.Param("agent_id"), req.Messages)
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"response":   content,
		"cost_event": event,
	})
}

// SimpleChatRequest is the single-query chat payload.
type SimpleChatRequest struct {
	Query   string `json:"query" binding:"required"`
	AgentID string `json:"agent_id"`
}

// SimpleChat performs one direct model call without orchestration.
func (h *Handler) SimpleChat(c *gin.Context) {
	var req SimpleChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}
	if req.AgentID == "" {
		req.AgentID = "default_agent"
	}

	messages := []llm.Message{{Role: "user", Content: req.Query}}
	content, event, err := h.router.InvokeWithTracking(c.Request.Context(), req.AgentID, messages)
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"response":   content,
		"cost_usd":   event.CostUSD,
		"model_used": event.ModelUsed,
		"agent_id":   req.AgentID,
	})
}

// QueryRequest is the orchestrated multi-agent query payload.
type QueryRequest struct {
	Query          string `json:"query" binding:"required"`
	ForceAllAgents bool   `json:"force_all_agents"`
}

// ExecuteQuery runs the coordinator/researcher/coder pipeline.
func (h *Handler) ExecuteQuery(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format")
		return
	}

	result, err := h.orchestrator.ExecuteQuery(c.Request.Context(), req.Query, req.ForceAllAgents)
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
