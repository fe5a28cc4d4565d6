package tts

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

// LocalSynthesizer runs an on-device piper model. Prepare downloads the
// voice model on first use; synthesis shells out to the piper binary.
type LocalSynthesizer struct {
	fetcher   assets.Fetcher
	modelName string // e.g. "en_US-amy-medium.onnx"
	dataDir   string
	binary    string // default "piper"
	timeoutMs int

	modelPath string // set by Prepare
}

// LocalConfig configures the local synthesizer.
type LocalConfig struct {
	ModelName string
	DataDir   string
	Binary    string
	TimeoutMs int
}

// NewLocalSynthesizer creates a local synthesis backend. Models are
// fetched through the given fetcher into DataDir.
func NewLocalSynthesizer(fetcher assets.Fetcher, cfg LocalConfig) *LocalSynthesizer {
	p := &LocalSynthesizer{
		fetcher:   fetcher,
		modelName: cfg.ModelName,
		dataDir:   cfg.DataDir,
		binary:    cfg.Binary,
		timeoutMs: cfg.TimeoutMs,
	}
	if p.modelName == "" {
		p.modelName = "en_US-amy-medium.onnx"
	}
	if p.dataDir == "" {
		p.dataDir = filepath.Join(os.TempDir(), "voxd-models")
	}
	if p.binary == "" {
		p.binary = "piper"
	}
	if p.timeoutMs <= 0 {
		p.timeoutMs = 60000
	}
	return p
}

func (p *LocalSynthesizer) ID() string          { return "local_tts" }
func (p *LocalSynthesizer) DisplayName() string { return "Local TTS (piper)" }

// Prepare checks the binary and downloads the voice model. The fetch is
// idempotent so a restart with a warm cache returns immediately.
func (p *LocalSynthesizer) Prepare(ctx context.Context) error {
	if _, err := exec.LookPath(p.binary); err != nil {
		return fmt.Errorf("%s binary not found: %w", p.binary, err)
	}
	path, err := p.fetcher.Fetch(ctx, p.modelName, p.dataDir)
	if err != nil {
		return fmt.Errorf("fetch tts model: %w", err)
	}
	p.modelPath = path
	return nil
}

func (p *LocalSynthesizer) Probe(_ context.Context) error {
	if p.modelPath == "" {
		return fmt.Errorf("tts model not prepared")
	}
	if _, err := os.Stat(p.modelPath); err != nil {
		return fmt.Errorf("tts model missing: %w", err)
	}
	return nil
}

// Synthesize feeds text to piper on stdin and reads WAV output.
func (p *LocalSynthesizer) Synthesize(ctx context.Context, text string, _ Options) (*Result, error) {
	if p.modelPath == "" {
		return nil, fmt.Errorf("tts model not prepared")
	}

	outPath := filepath.Join(os.TempDir(), fmt.Sprintf("voxd-tts-%d.wav", time.Now().UnixNano()))
	defer os.Remove(outPath)

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(p.timeoutMs)*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, p.binary,
		"--model", p.modelPath,
		"--output_file", outPath,
	)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("piper failed: %w (stderr: %s)", err, stderr.String())
	}

	audio, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read piper output: %w", err)
	}

	return &Result{Audio: audio, Extension: "wav", MimeType: "audio/wav"}, nil
}
