// Package tts provides text-to-speech functionality.
package tts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
)

// Synthesizer is the interface for text-to-speech services.
type Synthesizer interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to raw 16-bit little-endian PCM at
	// opts.SampleRate. Partial audio is never returned with a nil error.
	Synthesize(ctx context.Context, text string, opts Options) ([]byte, error)
}

// Options configures synthesis.
type Options struct {
	Voice      string // Voice identifier
	Model      string // Provider-specific model
	Language   string // Language code
	SampleRate int    // Sample rate in Hz (default: 8000)
}

func (o Options) withDefaults() Options {
	o.Voice = strings.TrimSpace(o.Voice)
	if o.SampleRate <= 0 {
		o.SampleRate = 8000
	}
	return o
}

// ErrIncomplete is returned when a provider stream ends before it signaled
// that all audio was delivered.
var ErrIncomplete = errors.New("tts stream ended before final audio")

// ErrContextClosed is returned when sending to a closed context.
var ErrContextClosed = errors.New("streaming context closed")

// StreamingContext manages an incremental TTS session.
// Text is sent with SendText and audio chunks are received via Audio.
type StreamingContext struct {
	audio     chan []byte
	err       error
	errMu     sync.Mutex
	done      chan struct{}
	closed    atomic.Bool
	final     atomic.Bool
	closeOnce sync.Once

	// For implementations to use
	SendFunc  func(text string, isFinal bool) error
	CloseFunc func() error
}

// NewStreamingContext creates a new streaming context.
func NewStreamingContext() *StreamingContext {
	return &StreamingContext{
		audio: make(chan []byte, 100),
		done:  make(chan struct{}),
	}
}

// SendText sends a text chunk to be synthesized.
// Set isFinal=true for the last chunk to signal completion.
func (sc *StreamingContext) SendText(text string, isFinal bool) error {
	if sc.closed.Load() {
		return ErrContextClosed
	}
	if sc.SendFunc != nil {
		return sc.SendFunc(text, isFinal)
	}
	return nil
}

// Flush signals that all text has been sent and generation should complete.
func (sc *StreamingContext) Flush() error {
	return sc.SendText("", true)
}

// Audio returns the channel of audio chunks.
func (sc *StreamingContext) Audio() <-chan []byte {
	return sc.audio
}

// Err returns any error that occurred.
func (sc *StreamingContext) Err() error {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	return sc.err
}

// Final reports whether the provider signaled the last audio chunk.
func (sc *StreamingContext) Final() bool {
	return sc.final.Load()
}

// Close closes the streaming context.
func (sc *StreamingContext) Close() error {
	var err error
	sc.closeOnce.Do(func() {
		sc.closed.Store(true)
		if sc.CloseFunc != nil {
			err = sc.CloseFunc()
		}
		close(sc.done)
	})
	return err
}

// Internal methods for implementations

// PushAudio sends an audio chunk. Returns false if closed.
func (sc *StreamingContext) PushAudio(chunk []byte) bool {
	select {
	case sc.audio <- chunk:
		return true
	case <-sc.done:
		return false
	}
}

// SetError records the first error that ended the context.
func (sc *StreamingContext) SetError(err error) {
	sc.errMu.Lock()
	if sc.err == nil {
		sc.err = err
	}
	sc.errMu.Unlock()
}

// MarkFinal records that the provider delivered its last chunk.
func (sc *StreamingContext) MarkFinal() {
	sc.final.Store(true)
}

// FinishAudio closes the audio channel.
func (sc *StreamingContext) FinishAudio() {
	close(sc.audio)
}
