// Package openai talks to OpenAI-compatible chat completion APIs such as
// OpenAI itself or OpenRouter. It lets hosted models write scripts and
// metadata in place of a local Ollama model.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CMarchell/autoclips/internal/executor"
	"github.com/CMarchell/autoclips/internal/ollama"
)

const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout    = 120 * time.Second
)

var _ ollama.Chatter = (*Client)(nil)

// Client sends chat completion requests.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	referer    string
	title      string
}

// NewClient creates a client for baseURL. An empty baseURL targets OpenAI.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		referer: "https://github.com/CMarchell/autoclips",
		title:   "autoclips",
	}
}

// Chat sends one non-streaming completion and returns the assistant text.
// A non-nil jsonSchema requests structured output.
//
// Rate limiting, server errors and transport failures are returned as
// *executor.TransientError; other failures as *executor.FatalError.
func (c *Client) Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema, temperature float64) (string, error) {
	if c.apiKey == "" {
		return "", executor.Fatalf("chat completions: no API key configured")
	}

	cr := ChatRequest{Model: model, Messages: messages}
	if temperature > 0 {
		cr.Temperature = &temperature
	}
	if jsonSchema != nil {
		cr.ResponseFormat = &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &JSONSchema{Name: "output", Schema: jsonSchema, Strict: false},
		}
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("chat completions: %w", ctx.Err())
		}
		return "", executor.Transient(fmt.Errorf("chat completions: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", executor.Transient(fmt.Errorf("decoding chat response: %w", err))
	}
	if len(result.Choices) == 0 {
		return "", executor.Transient(errors.New("chat completions: response has no choices"))
	}
	return result.Choices[0].Message.Content, nil
}

// ListModels returns the models the API key can use.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var list ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decoding models: %w", err)
	}

	if list.Data == nil {
		return []Model{}, nil
	}
	return list.Data, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	// OpenRouter attribution headers; other providers ignore them.
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)
}

func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("chat completions: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &executor.TransientError{Err: err, RetryAfter: executor.ParseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	return executor.Fatal(err)
}
