// Package speech chains transcription, reasoning, and synthesis into one
// voice exchange. The pipeline resolves the current backend fresh for
// every stage, so a hot-swap between stages takes effect immediately
// while a stage already running keeps the backend it started with.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/voxd/internal/backend"
	"github.com/nextlevelbuilder/voxd/internal/stt"
	"github.com/nextlevelbuilder/voxd/internal/tts"
)

// Stage names reported in errors and events.
const (
	StageTranscription = "transcription"
	StageReasoning     = "reasoning"
	StageSynthesis     = "synthesis"
)

// StageError identifies which stage of an exchange failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ReasonFunc produces an answer for a transcript. It is the seam to the
// orchestration queue: implementations submit the transcript and wait
// for a terminal result.
type ReasonFunc func(ctx context.Context, transcript string) (string, error)

// Exchange is the result of one voice round trip. Fields are filled as
// far as the pipeline got; Failed is nil on full success.
type Exchange struct {
	Transcript string
	Answer     string
	Audio      *tts.Result
	Failed     *StageError
	Elapsed    time.Duration
}

// Pipeline wires the two backend registries and the reasoner together.
type Pipeline struct {
	sttReg *backend.Registry[stt.Transcriber]
	ttsReg *backend.Registry[tts.Synthesizer]
	reason ReasonFunc
}

// New creates a pipeline over the given registries and reasoner.
func New(sttReg *backend.Registry[stt.Transcriber], ttsReg *backend.Registry[tts.Synthesizer], reason ReasonFunc) *Pipeline {
	return &Pipeline{sttReg: sttReg, ttsReg: ttsReg, reason: reason}
}

// Converse runs one full audio-in, audio-out exchange. A failed stage
// stops the pipeline: later stages never run, and the partial results
// from earlier stages stay in the Exchange. An empty transcript
// (silence) short-circuits before reasoning with no error.
func (p *Pipeline) Converse(ctx context.Context, audio []byte, sttOpts stt.Options, ttsOpts tts.Options) *Exchange {
	start := time.Now()
	ex := &Exchange{}
	defer func() { ex.Elapsed = time.Since(start) }()

	transcriber, err := p.sttReg.Current()
	if err != nil {
		ex.Failed = &StageError{Stage: StageTranscription, Err: err}
		return ex
	}
	tr, err := transcriber.Transcribe(ctx, audio, sttOpts)
	if err != nil {
		ex.Failed = &StageError{Stage: StageTranscription, Err: err}
		return ex
	}
	ex.Transcript = tr.Text

	if strings.TrimSpace(ex.Transcript) == "" {
		slog.Debug("empty transcript, skipping reasoning")
		return ex
	}

	answer, err := p.reason(ctx, ex.Transcript)
	if err != nil {
		ex.Failed = &StageError{Stage: StageReasoning, Err: err}
		return ex
	}
	ex.Answer = answer

	synthesizer, err := p.ttsReg.Current()
	if err != nil {
		ex.Failed = &StageError{Stage: StageSynthesis, Err: err}
		return ex
	}
	audio2, err := synthesizer.Synthesize(ctx, ex.Answer, ttsOpts)
	if err != nil {
		ex.Failed = &StageError{Stage: StageSynthesis, Err: err}
		return ex
	}
	ex.Audio = audio2

	slog.Info("voice exchange complete",
		"stt", transcriber.ID(), "tts", synthesizer.ID(),
		"transcript_len", len(ex.Transcript), "elapsed", time.Since(start))
	return ex
}
