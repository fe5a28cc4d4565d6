// Package providers implements reasoning backends over hosted LLM APIs
// and adapts their raw output into structured turns.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	openaiDefaultBase  = "https://api.openai.com/v1"
	openaiDefaultModel = "gpt-4o-mini"
)

// Message is a single chat message sent to the completion API.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Completer produces a raw completion for a message sequence.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// OpenAIClient talks to any OpenAI-compatible chat/completions endpoint.
type OpenAIClient struct {
	name        string
	apiKey      string
	apiBase     string
	model       string
	temperature float64
	timeoutMs   int
	client      *http.Client
}

// OpenAIConfig configures the completion client.
type OpenAIConfig struct {
	Name        string
	APIKey      string
	APIBase     string
	Model       string
	Temperature float64
	TimeoutMs   int
}

// NewOpenAIClient creates a completion client. Name defaults to "openai"
// and is only used in logs and errors; point APIBase at any compatible
// endpoint (dashscope, groq, ollama).
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	c := &OpenAIClient{
		name:        cfg.Name,
		apiKey:      cfg.APIKey,
		apiBase:     cfg.APIBase,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeoutMs:   cfg.TimeoutMs,
	}
	if c.name == "" {
		c.name = "openai"
	}
	if c.apiBase == "" {
		c.apiBase = openaiDefaultBase
	}
	if c.model == "" {
		c.model = openaiDefaultModel
	}
	if c.timeoutMs <= 0 {
		c.timeoutMs = 120000
	}
	c.client = &http.Client{Timeout: time.Duration(c.timeoutMs) * time.Millisecond}
	return c
}

func (c *OpenAIClient) Name() string { return c.name }

// Complete posts the messages to chat/completions and returns the first
// choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	body := map[string]interface{}{
		"model":    c.model,
		"messages": messages,
	}
	if c.temperature > 0 {
		body["temperature"] = c.temperature
	}

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal %s request: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/chat/completions", bytes.NewReader(bodyJSON))
	if err != nil {
		return "", fmt.Errorf("create %s request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%s error %d: %s", c.name, resp.StatusCode, string(errBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode %s response: %w", c.name, err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New(c.name + ": no choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}
