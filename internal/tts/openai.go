package tts

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

// OpenAISynthesizer implements synthesis via the OpenAI audio/speech API,
// or any endpoint speaking the same shape.
type OpenAISynthesizer struct {
	apiKey    string
	apiBase   string
	model     string // default "gpt-4o-mini-tts"
	voice     string // default "alloy"
	timeoutMs int    // default 30000
	client    *http.Client
}

// OpenAIConfig configures the OpenAI synthesizer.
type OpenAIConfig struct {
	APIKey    string
	APIBase   string
	Model     string
	Voice     string
	TimeoutMs int
}

// NewOpenAISynthesizer creates an OpenAI synthesis backend.
func NewOpenAISynthesizer(cfg OpenAIConfig) *OpenAISynthesizer {
	p := &OpenAISynthesizer{
		apiKey:    cfg.APIKey,
		apiBase:   cfg.APIBase,
		model:     cfg.Model,
		voice:     cfg.Voice,
		timeoutMs: cfg.TimeoutMs,
	}
	if p.apiBase == "" {
		p.apiBase = "https://api.openai.com/v1"
	}
	if p.model == "" {
		p.model = "gpt-4o-mini-tts"
	}
	if p.voice == "" {
		p.voice = "alloy"
	}
	if p.timeoutMs <= 0 {
		p.timeoutMs = 30000
	}
	p.client = &http.Client{Timeout: time.Duration(p.timeoutMs) * time.Millisecond}
	return p
}

func (p *OpenAISynthesizer) ID() string          { return "openai" }
func (p *OpenAISynthesizer) DisplayName() string { return "OpenAI Speech" }

// Prepare validates the credential is present. No network work is needed
// up front for a hosted API.
func (p *OpenAISynthesizer) Prepare(_ context.Context) error {
	if p.apiKey == "" {
		return errors.New("openai tts: api key not configured")
	}
	return nil
}

// Probe checks the API is reachable. Auth errors count as unhealthy too:
// a backend with a revoked key cannot serve.
func (p *OpenAISynthesizer) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai tts probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("openai tts probe: status %d", resp.StatusCode)
	}
	return nil
}

// Synthesize calls the audio/speech endpoint.
func (p *OpenAISynthesizer) Synthesize(ctx context.Context, text string, opts Options) (*Result, error) {
	voice := opts.Voice
	if voice == "" {
		voice = p.voice
	}
	model := opts.Model
	if model == "" {
		model = p.model
	}
	format := opts.Format
	if format == "" {
		format = "mp3"
	}

	body := map[string]interface{}{
		"model":           model,
		"input":           text,
		"voice":           voice,
		"response_format": format,
	}

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal openai tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/audio/speech", bytes.NewReader(bodyJSON))
	if err != nil {
		return nil, fmt.Errorf("create openai tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai tts request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai tts error %d: %s", resp.StatusCode, string(errBody))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai tts response: %w", err)
	}

	ext := format
	mime := "audio/mpeg"
	if format == "opus" {
		ext = "ogg"
		mime = "audio/ogg"
	}

	return &Result{Audio: audio, Extension: ext, MimeType: mime}, nil
}
