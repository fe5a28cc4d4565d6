package stt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextlevelbuilder/voxd/internal/assets"
)

// LocalTranscriber runs whisper.cpp on device. Prepare downloads the
// model file on first use; transcription shells out to the whisper-cli
// binary.
type LocalTranscriber struct {
	fetcher   assets.Fetcher
	modelName string // e.g. "ggml-base.en.bin"
	dataDir   string
	binary    string // default "whisper-cli"
	timeoutMs int

	modelPath string // set by Prepare
}

// LocalConfig configures the local transcriber.
type LocalConfig struct {
	ModelName string
	DataDir   string
	Binary    string
	TimeoutMs int
}

// NewLocalTranscriber creates a local transcription backend. Models are
// fetched through the given fetcher into DataDir.
func NewLocalTranscriber(fetcher assets.Fetcher, cfg LocalConfig) *LocalTranscriber {
	p := &LocalTranscriber{
		fetcher:   fetcher,
		modelName: cfg.ModelName,
		dataDir:   cfg.DataDir,
		binary:    cfg.Binary,
		timeoutMs: cfg.TimeoutMs,
	}
	if p.modelName == "" {
		p.modelName = "ggml-base.en.bin"
	}
	if p.dataDir == "" {
		p.dataDir = filepath.Join(os.TempDir(), "voxd-models")
	}
	if p.binary == "" {
		p.binary = "whisper-cli"
	}
	if p.timeoutMs <= 0 {
		p.timeoutMs = 120000
	}
	return p
}

func (p *LocalTranscriber) ID() string          { return "local_asr" }
func (p *LocalTranscriber) DisplayName() string { return "Local ASR (whisper.cpp)" }

func (p *LocalTranscriber) Prepare(ctx context.Context) error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("%s binary not found: %w", p.binary, err)
	}
	path, err := p.fetcher.Fetch(ctx, p.modelName, p.dataDir)
	if err != nil {
		return fmt.Errorf("fetch asr model: %w", err)
	}
	p.modelPath = path
	return nil
}

func (p *LocalTranscriber) Probe(_ context.Context) error {
	if p.modelPath == "" {
		return fmt.Errorf("asr model not prepared")
	}
	if _, err := os.Stat(p.modelPath); err != nil {
		return fmt.Errorf("asr model missing: %w", err)
	}
	return nil
}

// Transcribe writes the audio to a temp file and runs whisper-cli over it.
func (p *LocalTranscriber) Transcribe(ctx context.Context, audio []byte, opts Options) (*Result, error) {
	if p.modelPath == "" {
		return nil, fmt.Errorf("asr model not prepared")
	}

	format := opts.Format
	if format == "" {
		format = "wav"
	}
	inPath := filepath.Join(os.TempDir(), fmt.Sprintf("voxd-asr-%d.%s", time.Now().UnixNano(), format))
	if err := os.WriteFile(inPath, audio, 0o600); err != nil {
		return nil, fmt.Errorf("write audio file: %w", err)
	}
	defer os.Remove(inPath)

	args := []string{
		"--model", p.modelPath,
		"--file", inPath,
		"--no-timestamps",
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(p.timeoutMs)*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, p.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("whisper-cli failed: %w (stderr: %s)", err, stderr.String())
	}

	return &Result{
		Text:     strings.TrimSpace(stdout.String()),
		Language: opts.Language,
	}, nil
}
