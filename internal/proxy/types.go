package proxy

import (
	"encoding/json"
	"fmt"
)

// Message is one chat turn in the OpenAI-compatible wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a non-streaming chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatResponse is the subset of the completion response the client reads.
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice  `json:"choices"`
	Usage   Usage     `json:"usage"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError is the error object OpenRouter embeds when a routed provider fails.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Choice is one completion alternative. Some upstream models return content
// as a list of parts instead of a string, so it is kept raw.
type Choice struct {
	Message struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Content decodes the message content into a string or a list of parts.
func (c Choice) Content() any {
	if len(c.Message.Content) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(c.Message.Content, &v); err != nil {
		return string(c.Message.Content)
	}
	return v
}

// Usage reports token accounting for a completion.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// Model represents a model entry returned by the /models endpoint.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Object  string `json:"object,omitempty"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// ModelList is the response from /models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// StatusError is returned for non-2xx upstream responses other than 429.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}
