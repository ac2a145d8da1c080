package session

import (
	"strings"

	"github.com/vango-go/vai-calls/pkg/core/audio"
)

// Trigger decides when buffered caller audio is worth transcribing.
// Triggers are owned by one run loop and need no locking.
type Trigger interface {
	// Observe feeds one decoded PCM16LE chunk.
	Observe(pcm []byte)
	// Ready reports whether the audio seen since the last Reset should be
	// dispatched.
	Ready() bool
	// Reset forgets everything observed so far.
	Reset()
}

const (
	TriggerSilence = "silence"
	TriggerCount   = "count"
)

// TriggerConfig selects and tunes a Trigger.
type TriggerConfig struct {
	Policy          string
	Chunks          int
	Threshold       float64
	HangoverFrames  int
	MinSpeechFrames int
	MaxFrames       int
	IdleFrames      int
}

// NewTrigger builds the trigger named by cfg.Policy. Unknown policies fall
// back to silence detection.
func NewTrigger(cfg TriggerConfig) Trigger {
	if strings.EqualFold(strings.TrimSpace(cfg.Policy), TriggerCount) {
		return &ChunkCountTrigger{N: cfg.Chunks}
	}
	return NewSilenceTrigger(cfg)
}

// ChunkCountTrigger is ready after N chunks since the last dispatch.
type ChunkCountTrigger struct {
	N     int
	count int
}

func (t *ChunkCountTrigger) Observe([]byte) { t.count++ }

func (t *ChunkCountTrigger) Ready() bool {
	n := t.N
	if n <= 0 {
		n = 1
	}
	return t.count >= n
}

func (t *ChunkCountTrigger) Reset() { t.count = 0 }

// pcmFrameBytes is one 20 ms frame of 8 kHz PCM16.
const pcmFrameBytes = audio.FrameBytes * 2

// SilenceTrigger detects the end of an utterance from frame energy.
type SilenceTrigger struct {
	threshold       float64
	hangoverFrames  int
	minSpeechFrames int
	maxFrames       int
	idleFrames      int

	carry    []byte
	idle     int
	frames   int
	voiced   int
	trailing int
}

// NewSilenceTrigger applies defaults of RMS 500, 25 frames (500 ms) of
// hangover, 5 voiced frames and a 750 frame (15 s) utterance cap counted
// from the first voiced frame. Silence before any speech is dropped after
// IdleFrames (default 3000, 60 s) without dispatching.
func NewSilenceTrigger(cfg TriggerConfig) *SilenceTrigger {
	t := &SilenceTrigger{
		threshold:       cfg.Threshold,
		hangoverFrames:  cfg.HangoverFrames,
		minSpeechFrames: cfg.MinSpeechFrames,
		maxFrames:       cfg.MaxFrames,
		idleFrames:      cfg.IdleFrames,
	}
	if t.threshold <= 0 {
		t.threshold = 500
	}
	if t.hangoverFrames <= 0 {
		t.hangoverFrames = 25
	}
	if t.minSpeechFrames <= 0 {
		t.minSpeechFrames = 5
	}
	if t.maxFrames <= 0 {
		t.maxFrames = 750
	}
	if t.idleFrames <= 0 {
		t.idleFrames = 3000
	}
	return t
}

func (t *SilenceTrigger) Observe(pcm []byte) {
	buf := pcm
	if len(t.carry) > 0 {
		buf = append(t.carry, pcm...)
	}
	for len(buf) >= pcmFrameBytes {
		t.observeFrame(buf[:pcmFrameBytes])
		buf = buf[pcmFrameBytes:]
	}
	t.carry = append(t.carry[:0], buf...)
}

func (t *SilenceTrigger) observeFrame(frame []byte) {
	voiced := audio.RMS(frame) >= t.threshold
	if t.voiced == 0 && !voiced {
		t.idle++
		return
	}
	t.frames++
	if voiced {
		t.voiced++
		t.trailing = 0
		return
	}
	t.trailing++
}

func (t *SilenceTrigger) Ready() bool {
	if t.voiced > 0 && t.frames >= t.maxFrames {
		return true
	}
	return t.voiced >= t.minSpeechFrames && t.trailing >= t.hangoverFrames
}

// Idle reports whether only silence has been seen for longer than the idle
// cap. The caller should discard its buffer and Reset without dispatching.
func (t *SilenceTrigger) Idle() bool {
	return t.voiced == 0 && t.idle >= t.idleFrames
}

func (t *SilenceTrigger) Reset() {
	t.carry = t.carry[:0]
	t.idle = 0
	t.frames = 0
	t.voiced = 0
	t.trailing = 0
}
