package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// WhisperAPITranscriber implements transcription via the OpenAI
// audio/transcriptions API, or any endpoint speaking the same shape
// (groq, local whisper servers).
type WhisperAPITranscriber struct {
	apiKey    string
	apiBase   string
	model     string // default "whisper-1"
	timeoutMs int    // default 60000
	client    *http.Client
}

// WhisperAPIConfig configures the hosted whisper transcriber.
type WhisperAPIConfig struct {
	APIKey    string
	APIBase   string
	Model     string
	TimeoutMs int
}

// NewWhisperAPITranscriber creates a hosted whisper transcription backend.
func NewWhisperAPITranscriber(cfg WhisperAPIConfig) *WhisperAPITranscriber {
	p := &WhisperAPITranscriber{
		apiKey:    cfg.APIKey,
		apiBase:   cfg.APIBase,
		model:     cfg.Model,
		timeoutMs: cfg.TimeoutMs,
	}
	if p.apiBase == "" {
		p.apiBase = "https://api.openai.com/v1"
	}
	if p.model == "" {
		p.model = "whisper-1"
	}
	if p.timeoutMs <= 0 {
		p.timeoutMs = 60000
	}
	p.client = &http.Client{Timeout: time.Duration(p.timeoutMs) * time.Millisecond}
	return p
}

func (p *WhisperAPITranscriber) ID() string          { return "whisper_api" }
func (p *WhisperAPITranscriber) DisplayName() string { return "Whisper API" }

func (p *WhisperAPITranscriber) Prepare(_ context.Context) error {
	if p.apiKey == "" {
		return errors.New("whisper api: api key not configured")
	}
	return nil
}

func (p *WhisperAPITranscriber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("whisper api probe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("whisper api probe: status %d", resp.StatusCode)
	}
	return nil
}

// Transcribe posts the audio as multipart form data to the
// audio/transcriptions endpoint.
func (p *WhisperAPITranscriber) Transcribe(ctx context.Context, audio []byte, opts Options) (*Result, error) {
	format := opts.Format
	if format == "" {
		format = "wav"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, fmt.Errorf("build transcription request: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("build transcription request: %w", err)
	}
	if err := w.WriteField("model", p.model); err != nil {
		return nil, fmt.Errorf("build transcription request: %w", err)
	}
	if opts.Language != "" {
		if err := w.WriteField("language", opts.Language); err != nil {
			return nil, fmt.Errorf("build transcription request: %w", err)
		}
	}
	if err := w.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("build transcription request: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("build transcription request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, fmt.Errorf("create transcription request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("whisper api error %d: %s", resp.StatusCode, string(errBody))
	}

	var parsed struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}

	return &Result{
		Text:     parsed.Text,
		Language: parsed.Language,
		Duration: parsed.Duration,
	}, nil
}
