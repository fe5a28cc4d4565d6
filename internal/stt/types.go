// Package stt provides speech transcription backends.
package stt

import (
	"context"

	"github.com/nextlevelbuilder/voxd/internal/backend"
)

// Transcriber turns audio bytes into text. Implementations also carry the
// backend lifecycle so the registry can initialize and health-check them.
type Transcriber interface {
	backend.Provider
	Transcribe(ctx context.Context, audio []byte, opts Options) (*Result, error)
}

// Options controls transcription parameters.
type Options struct {
	Language string // hint, e.g. "en"; empty = auto-detect
	Format   string // input container: "wav", "mp3", "ogg"; default "wav"
}

// Result is the output of one transcription call.
type Result struct {
	Text     string  // recognized text, may be empty for silence
	Language string  // detected language if the backend reports one
	Duration float64 // audio duration in seconds if reported
}
