// Package stt provides speech-to-text functionality.
package stt

import (
	"context"
	"errors"
	"strings"
)

// Transcriber turns one buffered caller utterance into text.
type Transcriber interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts PCM audio to text. An empty Text means the engine
	// heard no speech; engine or transport failures are returned as errors.
	Transcribe(ctx context.Context, pcm []byte, opts Options) (Transcript, error)
}

// Options configures transcription.
type Options struct {
	Model      string // Provider-specific model
	Language   string // ISO language code (default: "en")
	Encoding   string // Raw audio encoding (default: "pcm_s16le")
	SampleRate int    // Audio sample rate in Hz (default: 8000)
}

// Transcript is the result of transcription.
type Transcript struct {
	Text       string
	Confidence float64
}

// Empty reports whether the transcript has no recognizable speech.
func (t Transcript) Empty() bool {
	return strings.TrimSpace(t.Text) == ""
}

// TranscriptDelta is a streaming transcript update.
type TranscriptDelta struct {
	Text      string  // Partial or final transcript segment
	IsFinal   bool    // True if this is a final segment
	Timestamp float64 // Timestamp in seconds
	FlushDone bool    // True once the engine acknowledged a finalize
}

// ErrStreamClosed is returned when a stream ends before the engine finished
// flushing buffered audio.
var ErrStreamClosed = errors.New("stt stream closed before flush completed")

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Language) == "" {
		o.Language = "en"
	}
	if strings.TrimSpace(o.Encoding) == "" {
		o.Encoding = "pcm_s16le"
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 8000
	}
	return o
}
