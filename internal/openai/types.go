package openai

import "github.com/CMarchell/autoclips/internal/ollama"

// ChatRequest is the chat completion request body.
type ChatRequest struct {
	Model          string           `json:"model"`
	Messages       []ollama.Message `json:"messages"`
	Temperature    *float64         `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat  `json:"response_format,omitempty"`
}

// ResponseFormat requests structured output.
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type JSONSchema struct {
	Name   string         `json:"name"`
	Schema *ollama.Schema `json:"schema"`
	Strict bool           `json:"strict"`
}

// ChatResponse is the subset of the completion response we read.
type ChatResponse struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Message      ollama.Message `json:"message"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

// Model represents a model entry returned by the /models endpoint.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelList is the response from /models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
