package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MarcIAFull/convergyzendy-sub000/internal/metrics"
	"github.com/MarcIAFull/convergyzendy-sub000/internal/repo"
)

const (
	providerName   = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

var (
	// ErrNoUsableKeys indicates every provider key is cooling down.
	ErrNoUsableKeys = errors.New("no usable provider keys")
	// ErrProviderUnavailable indicates the provider call failed after
	// exhausting usable keys.
	ErrProviderUnavailable = errors.New("reasoning provider unavailable")
)

// Message is one turn of conversation history.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// ToolDefinition describes a callable function exposed to the provider.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a structured operation the provider asks to perform. The
// provider is an untrusted proposer; callers must validate before applying.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Request carries the assembled context for one completion.
type Request struct {
	SystemPrompt string
	History      []Message
	UserMessage  string
	Tools        []ToolDefinition
}

// Response is the provider's reply plus any requested tool calls.
type Response struct {
	ReplyText string
	ToolCalls []ToolCall
}

// Config holds reasoning client configuration.
type Config struct {
	Model    string
	BaseURL  string
	Timeout  time.Duration
	Cooldown time.Duration
}

// Client calls the Gemini generateContent API with keys rotated from the
// api_keys table.
type Client struct {
	repository repo.Repository
	logger     *slog.Logger
	metrics    *metrics.Metrics
	http       *http.Client
	model      string
	baseURL    string
	cooldown   time.Duration
}

// New creates a reasoning client.
func New(repository repo.Repository, logger *slog.Logger, metricRegistry *metrics.Metrics, cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Client{
		repository: repository,
		logger:     logger.With("component", "nlu"),
		metrics:    metricRegistry,
		http:       &http.Client{Timeout: timeout},
		model:      model,
		baseURL:    baseURL,
		cooldown:   cooldown,
	}
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []struct {
		FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
	} `json:"tools,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Respond submits the assembled context and returns the reply plus any
// requested tool calls, rotating through stored keys on quota errors.
func (c *Client) Respond(ctx context.Context, req Request) (*Response, error) {
	keys, err := c.repository.ListActiveProviderKeys(ctx, providerName)
	if err != nil {
		return nil, fmt.Errorf("list provider keys: %w", err)
	}

	now := time.Now()
	var lastErr error
	tried := 0
	for _, key := range keys {
		if key.CooldownUntil != nil && key.CooldownUntil.After(now) {
			continue
		}
		tried++

		start := time.Now()
		resp, retryable, err := c.callOnce(ctx, key.Value, req)
		elapsed := time.Since(start).Seconds()
		if err == nil {
			c.observe("ok", elapsed)
			return resp, nil
		}

		c.observe("error", elapsed)
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.logger.Warn("provider key exhausted, cooling down", "key_id", key.ID, "error", err)
		if cdErr := c.repository.SetCooldownUntil(ctx, key.ID, time.Now().Add(c.cooldown)); cdErr != nil {
			c.logger.Warn("failed setting key cooldown", "key_id", key.ID, "error", cdErr)
		}
	}

	if tried == 0 {
		return nil, ErrNoUsableKeys
	}
	return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

// callOnce performs a single generateContent request. The second return value
// reports whether the failure is quota-class and the next key should be tried.
func (c *Client) callOnce(ctx context.Context, apiKey string, req Request) (*Response, bool, error) {
	payload := geminiRequest{
		Contents: make([]geminiContent, 0, len(req.History)+1),
	}
	if req.SystemPrompt != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	for _, msg := range req.History {
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		payload.Contents = append(payload.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: msg.Content}},
		})
	}
	payload.Contents = append(payload.Contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: req.UserMessage}},
	})
	if len(req.Tools) > 0 {
		declarations := make([]geminiFunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			declarations = append(declarations, geminiFunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			})
		}
		payload.Tools = append(payload.Tools, struct {
			FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
		}{FunctionDeclarations: declarations})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		// Timeouts and transport failures are worth retrying on another key.
		return nil, true, fmt.Errorf("call provider: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("read provider response: %w", err)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("provider status %d: %s", httpResp.StatusCode, truncate(string(respBody), 200))
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("provider status %d: %s", httpResp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, false, fmt.Errorf("decode provider response: %w", err)
	}
	if parsed.Error != nil {
		return nil, false, fmt.Errorf("provider error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return nil, false, fmt.Errorf("provider returned no candidates")
	}

	var result Response
	for _, part := range parsed.Candidates[0].Content.Parts {
		if part.Text != "" {
			if result.ReplyText != "" {
				result.ReplyText += "\n"
			}
			result.ReplyText += part.Text
		}
		if part.FunctionCall != nil {
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}
	return &result, false, nil
}

func (c *Client) observe(outcome string, elapsed float64) {
	if c.metrics == nil {
		return
	}
	c.metrics.ReasoningRequests.WithLabelValues(outcome).Inc()
	c.metrics.ReasoningLatency.WithLabelValues(outcome).Observe(elapsed)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
