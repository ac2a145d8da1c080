package session

import (
	"context"
	"time"
)

// Profile is the configuration snapshot a session runs with. It is copied
// in at creation and never re-read.
type Profile struct {
	CallID       string
	AgentID      string
	UserID       string
	Origin       string
	SystemPrompt string
	VoiceID      string
	ModelID      string
	Greeting     string
}

// Turn is one completed agent reply and the caller speech it answered.
// CallerText is empty for the greeting.
type Turn struct {
	CallID     string
	AgentID    string
	UserID     string
	CallerText string
	Confidence float64
	AgentText  string
	Fallback   bool
	At         time.Time
}

// TurnRecorder persists completed turns.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, turn Turn) error
}

// Observer receives pipeline timings. Implementations must be safe for
// concurrent use.
type Observer interface {
	SessionStarted(origin string)
	SessionEnded(origin string, d time.Duration)
	StageCompleted(stage string, d time.Duration, err error)
	TurnCompleted(outcome string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) SessionStarted(string)                       {}
func (nopObserver) SessionEnded(string, time.Duration)          {}
func (nopObserver) StageCompleted(string, time.Duration, error) {}
func (nopObserver) TurnCompleted(string, time.Duration)         {}

// Turn outcomes reported to the Observer.
const (
	OutcomeCompleted   = "completed"
	OutcomeNoSpeech    = "no_speech"
	OutcomeSTTFailed   = "stt_failed"
	OutcomeTTSFailed   = "tts_failed"
	OutcomeSendFailed  = "send_failed"
	OutcomeTimedOut    = "timed_out"
	OutcomeGreeting    = "greeting"
	OutcomeLLMFallback = "llm_fallback"
)
