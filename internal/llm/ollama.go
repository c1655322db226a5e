package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultOllamaModel is the free local fallback model. The "ollama/" prefix
// keeps fallback cost events distinguishable in the ledger.
const DefaultOllamaModel = "ollama/llama3.1:8b"

// OllamaClient calls a local Ollama server through its OpenAI-compatible
// endpoint. Ollama runs locally, is assumed free, and reports no usage.
// https://ollama.com/blog/openai-compatibility
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

type ollamaRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

type ollamaResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOllamaClient creates an Ollama client. model identifies the cost-event
// tag; the request strips the "ollama/" prefix before hitting the server.
func NewOllamaClient(baseURL, model string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			// Local inference on large models can be slow.
			Timeout: 900 * time.Second,
		},
	}
}

// Model returns the configured model identifier.
func (o *OllamaClient) Model() string {
	return o.model
}

// Invoke performs one chat completion against the local Ollama server.
// The returned Response carries no Usage: fallback calls are unmetered.
func (o *OllamaClient) Invoke(ctx context.Context, messages []Message) (*Response, error) {
	serverModel := o.model
	if len(serverModel) > 7 && serverModel[:7] == "ollama/" {
		serverModel = serverModel[7:]
	}

	body, err := json.Marshal(&ollamaRequest{
		Model:       serverModel,
		Messages:    messages,
		Temperature: 0.7,
		Stream:      false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := o.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// No Authorization header, Ollama runs locally without auth.

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ollama server at %s: %w", o.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return nil, fmt.Errorf("MODEL_NOT_FOUND: model %q not installed. Run: ollama pull %s", serverModel, serverModel)
		case 500, 502, 503, 504:
			return nil, fmt.Errorf("SERVICE_ERROR: Ollama server error (status %d). Is Ollama running?", resp.StatusCode)
		default:
			return nil, fmt.Errorf("API_ERROR: Ollama request failed with status %d: %s", resp.StatusCode, string(raw))
		}
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("Ollama API error: %s", parsed.Error.Message)
	}

	content := ""
	if len(parsed.Choices) > 0 {
		content = parsed.Choices[0].Message.Content
	}

	return &Response{
		Content: content,
		Model:   o.model,
		Usage:   nil,
	}, nil
}
