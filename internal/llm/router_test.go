package llm

import (
	"context"
	"errors"
	"testing"

	"agent-mesh/internal/breaker"
	"agent-mesh/internal/ledger"
	"agent-mesh/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider returns a scripted response or error and counts invocations.
type fakeProvider struct {
	model    string
	response *Response
	err      error
	calls    int
}

func (f *fakeProvider) Model() string { return f.model }

func (f *fakeProvider) Invoke(ctx context.Context, messages []Message) (*Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func newTestRouter(metered, fallback Provider) (*Router, *breaker.Breaker, *ledger.Ledger, store.Store) {
	s := store.NewMemoryStore()
	l := ledger.New(s)
	b := breaker.New(s, l)
	return NewRouter(metered, fallback, b, l), b, l, s
}

func meteredFake() *fakeProvider {
	return &fakeProvider{
		model: "llama-3.3-70b-versatile",
		response: &Response{
			Content: "metered answer",
			Model:   "llama-3.3-70b-versatile",
			Usage:   &Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
		},
	}
}

func fallbackFake() *fakeProvider {
	return &fakeProvider{
		model: "ollama/llama3.1:8b",
		response: &Response{
			Content: "fallback answer",
			Model:   "ollama/llama3.1:8b",
		},
	}
}

func TestSelectProvider_ClosedPicksMetered(t *testing.T) {
	metered, fallback := meteredFake(), fallbackFake()
	r, _, _, _ := newTestRouter(metered, fallback)

	provider, isMetered, reason, err := r.SelectProvider(context.Background(), "coordinator")
	require.NoError(t, err)
	assert.True(t, isMetered)
	assert.Equal(t, "circuit closed", reason)
	assert.Equal(t, "llama-3.3-70b-versatile", provider.Model())
}

func TestSelectProvider_OpenPicksFallback(t *testing.T) {
	metered, fallback := meteredFake(), fallbackFake()
	r, b, _, _ := newTestRouter(metered, fallback)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.RecordFailure(ctx, "coder", "err")
		require.NoError(t, err)
	}

	provider, isMetered, reason, err := r.SelectProvider(ctx, "coder")
	require.NoError(t, err)
	assert.False(t, isMetered)
	assert.Equal(t, "circuit open - use fallback", reason)
	assert.Equal(t, "ollama/llama3.1:8b", provider.Model())
}

func TestInvokeWithTracking_MeteredSuccess(t *testing.T) {
	metered, fallback := meteredFake(), fallbackFake()
	r, b, l, _ := newTestRouter(metered, fallback)
	ctx := context.Background()

	content, event, err := r.InvokeWithTracking(ctx, "coordinator", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "metered answer", content)
	assert.Equal(t, 1, metered.calls)
	assert.Equal(t, 0, fallback.calls)

	require.NotNil(t, event)
	assert.Equal(t, "llama-3.3-70b-versatile", event.ModelUsed)
	assert.Equal(t, 1000, event.TokensPrompt)
	assert.Equal(t, 500, event.TokensCompletion)
	assert.True(t, event.CostUSD.Equal(decimal.RequireFromString("0.000985")))

	total, err := l.TotalSpend(ctx, "coordinator")
	require.NoError(t, err)
	assert.False(t, total.IsZero())

	state, err := b.GetState(ctx, "coordinator")
	require.NoError(t, err)
	assert.Equal(t, breaker.StatusClosed, state.Status)
	assert.Equal(t, 0, state.FailureCount)
}

func TestInvokeWithTracking_FallbackRecordsZeroCostEvent(t *testing.T) {
	metered, fallback := meteredFake(), fallbackFake()
	r, b, l, _ := newTestRouter(metered, fallback)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.RecordFailure(ctx, "coder", "err")
		require.NoError(t, err)
	}

	content, event, err := r.InvokeWithTracking(ctx, "coder", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)

	assert.Equal(t, "fallback answer", content)
	assert.Equal(t, 0, metered.calls)
	assert.Equal(t, 1, fallback.calls)

	require.NotNil(t, event)
	assert.Equal(t, "ollama/llama3.1:8b", event.ModelUsed)
	assert.True(t, event.CostUSD.IsZero())

	// Every invocation leaves a history entry, fallback included.
	n, err := l.EventCount(ctx, "coder")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Fallback success is not graded: the failure count stays where it was.
	state, err := b.GetState(ctx, "coder")
	require.NoError(t, err)
	assert.Equal(t, 3, state.FailureCount)
	assert.Equal(t, breaker.StatusOpen, state.Status)
}

func TestInvokeWithTracking_ProviderErrorRecordsFailure(t *testing.T) {
	metered := &fakeProvider{
		model: "llama-3.3-70b-versatile",
		err:   errors.New("SERVICE_ERROR: Groq server error (status 503)"),
	}
	r, b, l, _ := newTestRouter(metered, fallbackFake())
	ctx := context.Background()

	_, _, err := r.InvokeWithTracking(ctx, "coder", []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "llama-3.3-70b-versatile", pe.Provider)

	state, err := b.GetState(ctx, "coder")
	require.NoError(t, err)
	assert.Equal(t, 1, state.FailureCount)
	assert.NotNil(t, state.LastFailureTime)

	// Failed calls record no cost event.
	n, err := l.EventCount(ctx, "coder")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestInvokeWithTracking_RepeatedErrorsTripThenRoute(t *testing.T) {
	metered := &fakeProvider{
		model: "llama-3.3-70b-versatile",
		err:   errors.New("SERVICE_ERROR: Groq server error (status 503)"),
	}
	fallback := fallbackFake()
	r, _, _, _ := newTestRouter(metered, fallback)
	ctx := context.Background()
	messages := []Message{{Role: "user", Content: "hi"}}

	for i := 0; i < 3; i++ {
		_, _, err := r.InvokeWithTracking(ctx, "coder", messages)
		require.Error(t, err)
	}

	// Circuit is now OPEN: the next call lands on the fallback and succeeds.
	content, _, err := r.InvokeWithTracking(ctx, "coder", messages)
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", content)
	assert.Equal(t, 3, metered.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestInvokeWithTracking_BudgetExhaustionRoutesToFallback(t *testing.T) {
	metered, fallback := meteredFake(), fallbackFake()
	r, _, l, _ := newTestRouter(metered, fallback)
	ctx := context.Background()

	_, err := l.RecordEvent(ctx, "coder", "llama-3.3-70b-versatile", 10_000_000, 10_000_000)
	require.NoError(t, err)

	content, event, err := r.InvokeWithTracking(ctx, "coder", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", content)
	assert.Equal(t, "ollama/llama3.1:8b", event.ModelUsed)
	assert.Equal(t, 0, metered.calls)
}

func TestInvokeWithTracking_MeteredSuccessWithoutUsage(t *testing.T) {
	metered := &fakeProvider{
		model:    "llama-3.3-70b-versatile",
		response: &Response{Content: "answer", Model: "llama-3.3-70b-versatile"},
	}
	r, _, _, _ := newTestRouter(metered, fallbackFake())

	_, event, err := r.InvokeWithTracking(context.Background(), "coordinator", []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, 0, event.TokensPrompt)
	assert.True(t, event.CostUSD.IsZero())
}
