package tts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// EdgeSynthesizer implements synthesis via Microsoft Edge TTS (free, no
// API key). Requires the `edge-tts` CLI tool:
//
//	pip install edge-tts
type EdgeSynthesizer struct {
	voice     string // default "en-US-MichelleNeural"
	rate      string // speech rate, e.g. "+0%"
	timeoutMs int
}

// EdgeConfig configures the Edge synthesizer.
type EdgeConfig struct {
	Voice     string
	Rate      string
	TimeoutMs int
}

// NewEdgeSynthesizer creates an Edge synthesis backend.
func NewEdgeSynthesizer(cfg EdgeConfig) *EdgeSynthesizer {
	p := &EdgeSynthesizer{
		voice:     cfg.Voice,
		rate:      cfg.Rate,
		timeoutMs: cfg.TimeoutMs,
	}
	if p.voice == "" {
		p.voice = "en-US-MichelleNeural"
	}
	if p.timeoutMs <= 0 {
		p.timeoutMs = 30000
	}
	return p
}

func (p *EdgeSynthesizer) ID() string          { return "edge" }
func (p *EdgeSynthesizer) DisplayName() string { return "Edge TTS" }

// Prepare verifies the edge-tts CLI is installed.
func (p *EdgeSynthesizer) Prepare(_ context.Context) error {
	if _, err := exec.LookPath("edge-tts"); err != nil {
		return fmt.Errorf("edge-tts binary not found: %w", err)
	}
	return nil
}

func (p *EdgeSynthesizer) Probe(_ context.Context) error {
	_, err := exec.LookPath("edge-tts")
	return err
}

// Synthesize runs the edge-tts CLI. Output is always MP3 (the tool's
// default format is audio-24khz-48kbitrate-mono-mp3).
func (p *EdgeSynthesizer) Synthesize(ctx context.Context, text string, _ Options) (*Result, error) {
	outPath := filepath.Join(os.TempDir(), fmt.Sprintf("tts-%d.mp3", time.Now().UnixNano()))
	defer os.Remove(outPath)

	args := []string{
		"--voice", p.voice,
		"--text", text,
		"--write-media", outPath,
	}
	if p.rate != "" {
		args = append(args, "--rate", p.rate)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(p.timeoutMs)*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "edge-tts", args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("edge-tts failed: %w (output: %s)", err, string(output))
	}

	audio, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read edge-tts output: %w", err)
	}

	return &Result{Audio: audio, Extension: "mp3", MimeType: "audio/mpeg"}, nil
}
