package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-calls/pkg/core/audio"
	"github.com/vango-go/vai-calls/pkg/core/llm"
	"github.com/vango-go/vai-calls/pkg/core/voice/stt"
	"github.com/vango-go/vai-calls/pkg/core/voice/tts"
	"github.com/vango-go/vai-calls/pkg/gateway/usage"
)

type outEvent struct {
	Event   string `json:"event"`
	Text    string `json:"text"`
	Message string `json:"message"`
	Media   struct {
		Payload string `json:"payload"`
	} `json:"media"`
	Mark struct {
		Name string `json:"name"`
	} `json:"mark"`
	StreamSID string `json:"streamSid"`
}

type fakeConn struct {
	in        chan []byte
	out       chan outEvent
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan outEvent, 1024),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	var ev outEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	c.out <- ev
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error          { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error           { return nil }
func (c *fakeConn) SetReadLimit(int64)                        {}
func (c *fakeConn) SetPongHandler(func(string) error)         {}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeSTT struct {
	mu        sync.Mutex
	calls     [][]byte
	active    int
	maxActive int
	fn        func(ctx context.Context, call int, pcm []byte) (stt.Transcript, error)
}

func (f *fakeSTT) Name() string { return "fake" }

func (f *fakeSTT) Transcribe(ctx context.Context, pcm []byte, _ stt.Options) (stt.Transcript, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]byte(nil), pcm...))
	call := len(f.calls)
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()
	if f.fn == nil {
		return stt.Transcript{Text: "hello", Confidence: 0.9}, nil
	}
	return f.fn(ctx, call, pcm)
}

func (f *fakeSTT) snapshot() (calls [][]byte, maxActive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.calls...), f.maxActive
}

type fakeResponder struct {
	mu      sync.Mutex
	systems []string
	history [][]llm.Message
	reply   func(history []llm.Message) llm.Reply
}

func (f *fakeResponder) Respond(_ context.Context, system string, history []llm.Message, _ string) llm.Reply {
	f.mu.Lock()
	f.systems = append(f.systems, system)
	f.history = append(f.history, history)
	f.mu.Unlock()
	if f.reply == nil {
		return llm.Reply{Text: "reply to " + history[len(history)-1].Text}
	}
	return f.reply(history)
}

func (f *fakeResponder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history)
}

type fakeTTS struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeTTS) Name() string { return "fake" }

func (f *fakeTTS) Synthesize(_ context.Context, text string, _ tts.Options) ([]byte, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	// 240 samples: one full frame and one padded frame.
	return make([]byte, 480), nil
}

type failingGenerator struct{}

func (failingGenerator) Name() string { return "failing" }

func (failingGenerator) Generate(context.Context, llm.Request) (string, error) {
	return "", errors.New("upstream unavailable")
}

type fakeObserver struct {
	mu       sync.Mutex
	started  int
	ended    int
	outcomes []string
}

func (o *fakeObserver) SessionStarted(string) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *fakeObserver) SessionEnded(string, time.Duration) {
	o.mu.Lock()
	o.ended++
	o.mu.Unlock()
}

func (o *fakeObserver) StageCompleted(string, time.Duration, error) {}

func (o *fakeObserver) TurnCompleted(outcome string, _ time.Duration) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

type recorderFunc func(ctx context.Context, turn Turn) error

func (f recorderFunc) RecordTurn(ctx context.Context, turn Turn) error { return f(ctx, turn) }

type meterFunc func(ctx context.Context, ev usage.Event) error

func (f meterFunc) Record(ctx context.Context, ev usage.Event) error { return f(ctx, ev) }

type harness struct {
	conn *fakeConn
	sess *LiveSession
	done chan error
}

func startSession(t *testing.T, deps Dependencies) *harness {
	t.Helper()
	conn := newFakeConn()
	deps.Conn = conn
	if deps.Profile.CallID == "" {
		deps.Profile.CallID = "call-1"
	}
	if deps.STT == nil {
		deps.STT = &fakeSTT{}
	}
	if deps.Responder == nil {
		deps.Responder = &fakeResponder{}
	}
	if deps.TTS == nil {
		deps.TTS = &fakeTTS{}
	}
	if deps.Config.Trigger.Policy == "" {
		deps.Config.Trigger = TriggerConfig{Policy: TriggerCount, Chunks: 1}
	}
	if deps.Config.TurnTimeout == 0 {
		deps.Config.TurnTimeout = 5 * time.Second
	}
	deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	sess, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := &harness{conn: conn, sess: sess, done: make(chan error, 1)}
	go func() { h.done <- sess.Run() }()
	t.Cleanup(func() {
		sess.Cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Errorf("session did not stop")
		}
	})
	return h
}

func (h *harness) send(raw string) {
	h.conn.in <- []byte(raw)
}

func (h *harness) media(mulaw []byte) {
	h.send(fmt.Sprintf(`{"event":"media","media":{"payload":%q}}`, base64.StdEncoding.EncodeToString(mulaw)))
}

// sync round-trips a ping so every earlier frame has been handled.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	h.send(`{"event":"ping"}`)
	h.expect(t, "pong")
}

func (h *harness) next(t *testing.T) outEvent {
	t.Helper()
	select {
	case ev := <-h.conn.out:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outbound event")
		return outEvent{}
	}
}

func (h *harness) expect(t *testing.T, event string) outEvent {
	t.Helper()
	ev := h.next(t)
	if ev.Event != event {
		t.Fatalf("event=%q (%+v), want %q", ev.Event, ev, event)
	}
	return ev
}

// expectReplyAudio consumes the two media frames and the completion mark
// produced by fakeTTS.
func (h *harness) expectReplyAudio(t *testing.T) {
	t.Helper()
	for i := 0; i < 2; i++ {
		ev := h.expect(t, "media")
		frame, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
		if err != nil || len(frame) != audio.FrameBytes {
			t.Fatalf("frame %d len=%d err=%v, want %d bytes", i, len(frame), err, audio.FrameBytes)
		}
	}
	if ev := h.expect(t, "mark"); ev.Mark.Name != "audio_complete" {
		t.Fatalf("mark=%q, want audio_complete", ev.Mark.Name)
	}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not end")
		return nil
	}
}

func TestNew_ValidatesDependencies(t *testing.T) {
	base := Dependencies{
		Conn:      newFakeConn(),
		STT:       &fakeSTT{},
		Responder: &fakeResponder{},
		TTS:       &fakeTTS{},
		Profile:   Profile{CallID: "c"},
	}
	cases := map[string]func(d *Dependencies){
		"conn":      func(d *Dependencies) { d.Conn = nil },
		"stt":       func(d *Dependencies) { d.STT = nil },
		"responder": func(d *Dependencies) { d.Responder = nil },
		"tts":       func(d *Dependencies) { d.TTS = nil },
		"call id":   func(d *Dependencies) { d.Profile.CallID = " " },
	}
	for name, mutate := range cases {
		d := base
		mutate(&d)
		if _, err := New(d); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := New(base); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestLiveSession_CompletesTurn(t *testing.T) {
	sttFake := &fakeSTT{}
	responder := &fakeResponder{}
	ttsFake := &fakeTTS{}
	h := startSession(t, Dependencies{
		STT:       sttFake,
		Responder: responder,
		TTS:       ttsFake,
		Profile:   Profile{SystemPrompt: "be brief"},
	})

	h.send(`{"event":"start","start":{"streamSid":"MZ1","callSid":"CA1"}}`)
	chunk := bytes.Repeat([]byte{0x10}, audio.FrameBytes)
	h.media(chunk)

	if ev := h.expect(t, "transcript"); ev.Text != "hello" {
		t.Fatalf("transcript=%q, want hello", ev.Text)
	}
	if ev := h.expect(t, "agent-response"); ev.Text != "reply to hello" {
		t.Fatalf("agent-response=%q", ev.Text)
	}
	first := h.expect(t, "media")
	if first.StreamSID != "MZ1" {
		t.Fatalf("streamSid=%q, want MZ1", first.StreamSID)
	}
	h.expect(t, "media")
	h.expect(t, "mark")

	calls, _ := sttFake.snapshot()
	if len(calls) != 1 || !bytes.Equal(calls[0], audio.DecodeMuLaw(chunk)) {
		t.Fatalf("stt received %d calls, want decoded chunk", len(calls))
	}
	if responder.systems[0] != "be brief" {
		t.Fatalf("system=%q", responder.systems[0])
	}
	if got := responder.history[0]; len(got) != 1 || got[0].Role != llm.RoleCaller || got[0].Text != "hello" {
		t.Fatalf("history=%+v", got)
	}
	if len(ttsFake.texts) != 1 || ttsFake.texts[0] != "reply to hello" {
		t.Fatalf("tts texts=%v", ttsFake.texts)
	}
}

func TestLiveSession_NoOverlapAndNoAudioLoss(t *testing.T) {
	release := make(chan struct{})
	sttFake := &fakeSTT{fn: func(ctx context.Context, call int, pcm []byte) (stt.Transcript, error) {
		if call == 1 {
			<-release
		}
		return stt.Transcript{Text: fmt.Sprintf("utterance %d", call)}, nil
	}}
	h := startSession(t, Dependencies{STT: sttFake})

	c1 := bytes.Repeat([]byte{0x01}, 80)
	c2 := bytes.Repeat([]byte{0x02}, 80)
	c3 := bytes.Repeat([]byte{0x03}, 80)
	h.media(c1)
	h.media(c2)
	h.media(c3)
	h.sync(t)
	close(release)

	h.expect(t, "transcript")
	h.expect(t, "agent-response")
	h.expectReplyAudio(t)
	if ev := h.expect(t, "transcript"); ev.Text != "utterance 2" {
		t.Fatalf("second transcript=%q", ev.Text)
	}
	h.expect(t, "agent-response")
	h.expectReplyAudio(t)

	calls, maxActive := sttFake.snapshot()
	if maxActive != 1 {
		t.Fatalf("maxActive=%d, want 1", maxActive)
	}
	if len(calls) != 2 {
		t.Fatalf("stt calls=%d, want 2", len(calls))
	}
	want := audio.DecodeMuLaw(append(append([]byte(nil), c2...), c3...))
	if !bytes.Equal(calls[1], want) {
		t.Fatalf("second dispatch len=%d, want %d", len(calls[1]), len(want))
	}
}

func TestLiveSession_EmptyTranscriptSkipsReply(t *testing.T) {
	sttFake := &fakeSTT{fn: func(_ context.Context, call int, _ []byte) (stt.Transcript, error) {
		if call == 1 {
			return stt.Transcript{Text: "  "}, nil
		}
		return stt.Transcript{Text: "second"}, nil
	}}
	responder := &fakeResponder{}
	ttsFake := &fakeTTS{}
	obs := &fakeObserver{}
	h := startSession(t, Dependencies{STT: sttFake, Responder: responder, TTS: ttsFake, Observer: obs})

	h.media([]byte{0x10, 0x20})
	h.sync(t)
	deadline := time.Now().Add(2 * time.Second)
	for {
		obs.mu.Lock()
		n := len(obs.outcomes)
		obs.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("turn never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if responder.calls() != 0 {
		t.Fatalf("responder calls=%d, want 0", responder.calls())
	}
	obs.mu.Lock()
	outcome := obs.outcomes[0]
	obs.mu.Unlock()
	if outcome != OutcomeNoSpeech {
		t.Fatalf("outcome=%q, want %q", outcome, OutcomeNoSpeech)
	}
	ttsFake.mu.Lock()
	synthesized := len(ttsFake.texts)
	ttsFake.mu.Unlock()
	if synthesized != 0 {
		t.Fatalf("tts calls=%d, want 0", synthesized)
	}

	h.media([]byte{0x10, 0x20})
	if ev := h.expect(t, "transcript"); ev.Text != "second" {
		t.Fatalf("transcript=%q, want second", ev.Text)
	}
	h.expect(t, "agent-response")
	h.expectReplyAudio(t)

	responder.mu.Lock()
	defer responder.mu.Unlock()
	if len(responder.history) != 1 {
		t.Fatalf("responder calls=%d, want 1", len(responder.history))
	}
	if hist := responder.history[0]; len(hist) != 1 || hist[0].Role != llm.RoleCaller || hist[0].Text != "second" {
		t.Fatalf("history=%+v, want only the second caller turn", hist)
	}
}

func TestLiveSession_GreetsOnFirstConnect(t *testing.T) {
	ttsFake := &fakeTTS{}
	responder := &fakeResponder{}
	h := startSession(t, Dependencies{
		TTS:       ttsFake,
		Responder: responder,
		Profile:   Profile{Greeting: "Hi there"},
	})

	h.send(`{"event":"connected","protocol":"Call","version":"1.0.0"}`)
	if ev := h.expect(t, "agent-response"); ev.Text != "Hi there" {
		t.Fatalf("greeting=%q", ev.Text)
	}
	h.expectReplyAudio(t)

	h.send(`{"event":"connected"}`)
	h.sync(t)

	h.media([]byte{0x10})
	h.expect(t, "transcript")
	h.expect(t, "agent-response")
	h.expectReplyAudio(t)

	if len(ttsFake.texts) != 2 || ttsFake.texts[0] != "Hi there" {
		t.Fatalf("tts texts=%v", ttsFake.texts)
	}
	hist := responder.history[0]
	if len(hist) != 2 || hist[0].Role != llm.RoleAgent || hist[0].Text != "Hi there" || hist[1].Role != llm.RoleCaller {
		t.Fatalf("history=%+v", hist)
	}
}

func TestLiveSession_GreetingWaitsForTurnInFlight(t *testing.T) {
	release := make(chan struct{})
	sttFake := &fakeSTT{fn: func(context.Context, int, []byte) (stt.Transcript, error) {
		<-release
		return stt.Transcript{Text: "early"}, nil
	}}
	h := startSession(t, Dependencies{STT: sttFake, Profile: Profile{Greeting: "Welcome"}})

	h.media([]byte{0x10})
	h.send(`{"event":"connected"}`)
	h.sync(t)
	close(release)

	h.expect(t, "transcript")
	if ev := h.expect(t, "agent-response"); ev.Text != "reply to early" {
		t.Fatalf("first response=%q", ev.Text)
	}
	h.expectReplyAudio(t)
	if ev := h.expect(t, "agent-response"); ev.Text != "Welcome" {
		t.Fatalf("deferred greeting=%q", ev.Text)
	}
	h.expectReplyAudio(t)
}

func TestLiveSession_LLMFailureSpeaksFallback(t *testing.T) {
	ttsFake := &fakeTTS{}
	obs := &fakeObserver{}
	h := startSession(t, Dependencies{
		Responder: llm.NewResponder(failingGenerator{}, slog.New(slog.NewTextHandler(io.Discard, nil))),
		TTS:       ttsFake,
		Observer:  obs,
	})

	h.media([]byte{0x10})
	h.expect(t, "transcript")
	if ev := h.expect(t, "agent-response"); ev.Text != llm.FallbackReply {
		t.Fatalf("response=%q, want fallback", ev.Text)
	}
	h.expectReplyAudio(t)
	h.sync(t)

	if ttsFake.texts[0] != llm.FallbackReply {
		t.Fatalf("tts text=%q", ttsFake.texts[0])
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.outcomes) != 1 || obs.outcomes[0] != OutcomeLLMFallback {
		t.Fatalf("outcomes=%v", obs.outcomes)
	}
}

func TestLiveSession_TurnTimeoutReportsAndRecovers(t *testing.T) {
	sttFake := &fakeSTT{fn: func(ctx context.Context, call int, _ []byte) (stt.Transcript, error) {
		if call == 1 {
			<-ctx.Done()
			return stt.Transcript{}, ctx.Err()
		}
		return stt.Transcript{Text: "later"}, nil
	}}
	h := startSession(t, Dependencies{STT: sttFake, Config: Config{TurnTimeout: 50 * time.Millisecond}})

	h.media([]byte{0x10})
	if ev := h.expect(t, "error"); ev.Message != "turn timed out" {
		t.Fatalf("message=%q", ev.Message)
	}
	h.sync(t)

	h.media([]byte{0x10})
	if ev := h.expect(t, "transcript"); ev.Text != "later" {
		t.Fatalf("transcript=%q", ev.Text)
	}
}

func TestLiveSession_STTFailureSendsErrorEvent(t *testing.T) {
	sttFake := &fakeSTT{fn: func(context.Context, int, []byte) (stt.Transcript, error) {
		return stt.Transcript{}, errors.New("engine down")
	}}
	responder := &fakeResponder{}
	h := startSession(t, Dependencies{STT: sttFake, Responder: responder})

	h.media([]byte{0x10})
	if ev := h.expect(t, "error"); ev.Message != "transcription failed" {
		t.Fatalf("message=%q", ev.Message)
	}
	h.sync(t)
	if responder.calls() != 0 {
		t.Fatalf("responder calls=%d, want 0", responder.calls())
	}
}

func TestLiveSession_TTSFailureSendsErrorEvent(t *testing.T) {
	responder := &fakeResponder{}
	h := startSession(t, Dependencies{Responder: responder, TTS: &fakeTTS{err: errors.New("voice missing")}})

	h.media([]byte{0x10})
	h.expect(t, "transcript")
	h.expect(t, "agent-response")
	if ev := h.expect(t, "error"); ev.Message != "synthesis failed" {
		t.Fatalf("message=%q", ev.Message)
	}
	h.sync(t)

	h.media([]byte{0x10})
	h.expect(t, "transcript")
	h.expect(t, "agent-response")
	h.expect(t, "error")

	responder.mu.Lock()
	defer responder.mu.Unlock()
	if len(responder.history) != 2 {
		t.Fatalf("responder calls=%d, want 2", len(responder.history))
	}
	hist := responder.history[1]
	if len(hist) != 3 || hist[0].Role != llm.RoleCaller || hist[1].Role != llm.RoleAgent || hist[1].Text != "reply to hello" {
		t.Fatalf("history=%+v, want caller, agent, caller", hist)
	}
}

func TestLiveSession_InvalidFrameKeepsConnectionOpen(t *testing.T) {
	h := startSession(t, Dependencies{})

	h.send(`{not json`)
	if ev := h.expect(t, "error"); !strings.Contains(ev.Message, "invalid") {
		t.Fatalf("message=%q", ev.Message)
	}
	h.send(`{"event":"mystery"}`)
	h.sync(t)
}

func TestLiveSession_InboundRateLimitEndsSession(t *testing.T) {
	h := startSession(t, Dependencies{Config: Config{MaxAudioChunksPerSecond: 1, InboundBurstSeconds: 1}, STT: &fakeSTT{fn: func(ctx context.Context, _ int, _ []byte) (stt.Transcript, error) {
		<-ctx.Done()
		return stt.Transcript{}, ctx.Err()
	}}})

	h.media([]byte{0x10})
	h.media([]byte{0x10})
	if ev := h.expect(t, "error"); ev.Message != "inbound audio rate limit exceeded" {
		t.Fatalf("message=%q", ev.Message)
	}
	if err := h.wait(t); err != nil {
		t.Fatalf("Run=%v", err)
	}
}

func TestLiveSession_PersistsTurnsAndUsage(t *testing.T) {
	turns := make(chan Turn, 4)
	events := make(chan usage.Event, 4)
	h := startSession(t, Dependencies{
		Profile: Profile{CallID: "call-9", AgentID: "agent-1", UserID: "user-1"},
		Recorder: recorderFunc(func(_ context.Context, turn Turn) error {
			turns <- turn
			return nil
		}),
		Meter: meterFunc(func(_ context.Context, ev usage.Event) error {
			events <- ev
			return nil
		}),
	})

	h.media([]byte{0x10})
	h.expect(t, "transcript")
	h.expect(t, "agent-response")

	select {
	case turn := <-turns:
		if turn.CallID != "call-9" || turn.AgentID != "agent-1" || turn.CallerText != "hello" || turn.AgentText != "reply to hello" {
			t.Fatalf("turn=%+v", turn)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("turn not recorded")
	}
	select {
	case ev := <-events:
		if ev.Kind != usage.KindTurn || ev.Quantity != 1 || ev.UserID != "user-1" {
			t.Fatalf("event=%+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("usage not recorded")
	}

	h.send(`{"event":"stop"}`)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run=%v", err)
	}
	select {
	case ev := <-events:
		if ev.Kind != usage.KindCallSeconds || ev.CallID != "call-9" {
			t.Fatalf("event=%+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("call seconds not recorded")
	}
}

func TestLiveSession_TeardownIsIdempotent(t *testing.T) {
	obs := &fakeObserver{}
	var meterCalls atomic.Int32
	h := startSession(t, Dependencies{
		Observer: obs,
		Meter: meterFunc(func(context.Context, usage.Event) error {
			meterCalls.Add(1)
			return nil
		}),
	})
	h.sync(t)

	h.send(`{"event":"stop"}`)
	h.send(`{"event":"stop"}`)
	h.sess.Cancel()
	h.sess.Cancel()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run=%v", err)
	}
	h.sess.Cancel()
	if err := h.sess.Run(); err == nil {
		t.Fatalf("second Run should fail")
	}
	select {
	case <-h.conn.closed:
	default:
		t.Fatalf("connection not closed")
	}

	deadline := time.Now().Add(time.Second)
	for meterCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := meterCalls.Load(); got != 1 {
		t.Fatalf("meter calls=%d, want 1", got)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.started != 1 || obs.ended != 1 {
		t.Fatalf("started=%d ended=%d, want 1/1", obs.started, obs.ended)
	}
}

func TestLiveSession_NotifySendsErrorEvent(t *testing.T) {
	h := startSession(t, Dependencies{})
	h.sync(t)
	if err := h.sess.Notify("server shutting down"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if ev := h.expect(t, "error"); ev.Message != "server shutting down" {
		t.Fatalf("message=%q", ev.Message)
	}
}
