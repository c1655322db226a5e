package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultGroqModel is the metered high-intelligence model.
const DefaultGroqModel = "llama-3.3-70b-versatile"

// GroqClient calls the Groq OpenAI-compatible chat completions API. Each
// successful call reports prompt/completion token usage for metering.
type GroqClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type groqRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

type groqResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// NewGroqClient creates a Groq API client. requestsPerMinute caps the
// outbound call rate; <= 0 disables the limiter.
func NewGroqClient(apiKey, model string, requestsPerMinute int) *GroqClient {
	if model == "" {
		model = DefaultGroqModel
	}
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerMinute)/60, requestsPerMinute)
	}
	return &GroqClient{
		apiKey:  apiKey,
		baseURL: "https://api.groq.com/openai",
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		limiter: limiter,
	}
}

// Model returns the configured model identifier.
func (g *GroqClient) Model() string {
	return g.model
}

// Invoke performs one chat completion against Groq.
func (g *GroqClient) Invoke(ctx context.Context, messages []Message) (*Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(&groqRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: 0.7,
		Stream:      false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := g.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach Groq API: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, fmt.Errorf("AUTH_ERROR: Groq rejected the API key (status 401)")
		case http.StatusTooManyRequests:
			return nil, fmt.Errorf("QUOTA_ERROR: Groq rate/quota limit hit (status 429)")
		case 500, 502, 503, 504:
			return nil, fmt.Errorf("SERVICE_ERROR: Groq server error (status %d)", resp.StatusCode)
		default:
			return nil, fmt.Errorf("API_ERROR: Groq request failed with status %d: %s", resp.StatusCode, string(raw))
		}
	}

	var parsed groqResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("Groq API error: %s", parsed.Error.Message)
	}

	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}

	return &Response{
		Content: content,
		Model:   g.model,
		Usage: &Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}
