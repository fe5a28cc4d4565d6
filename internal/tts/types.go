// Package tts provides speech synthesis backends.
//
// Supported backends: OpenAI, ElevenLabs, Edge (Microsoft), local model.
package tts

import (
	"context"

	"github.com/nextlevelbuilder/voxd/internal/backend"
)

// Synthesizer turns text into audio bytes. Implementations also carry the
// backend lifecycle so the registry can initialize and health-check them.
type Synthesizer interface {
	backend.Provider
	Synthesize(ctx context.Context, text string, opts Options) (*Result, error)
}

// Options controls synthesis parameters.
type Options struct {
	Voice  string // backend-specific voice ID
	Model  string // backend-specific model ID
	Format string // output format: "mp3", "opus"
}

// Result is the output of one synthesis call.
type Result struct {
	Audio     []byte // raw audio bytes
	Extension string // file extension without dot: "mp3", "ogg"
	MimeType  string // e.g. "audio/mpeg", "audio/ogg"
}
