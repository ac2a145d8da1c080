package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-calls/pkg/core/audio"
	"github.com/vango-go/vai-calls/pkg/core/llm"
	"github.com/vango-go/vai-calls/pkg/core/voice/stt"
	"github.com/vango-go/vai-calls/pkg/core/voice/tts"
	"github.com/vango-go/vai-calls/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-calls/pkg/gateway/usage"
)

const outboundPriorityQueueSize = 8

var (
	errBackpressure  = errors.New("live outbound backpressure")
	errReplyFallback = errors.New("llm reply fell back")
)

// Conn is the transport connection. *websocket.Conn satisfies it.
type Conn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// Responder produces the agent reply for a conversation and never fails.
type Responder interface {
	Respond(ctx context.Context, system string, history []llm.Message, model string) llm.Reply
}

type Config struct {
	TurnTimeout             time.Duration
	PingInterval            time.Duration
	WriteTimeout            time.Duration
	ReadTimeout             time.Duration
	MaxSessionDuration      time.Duration
	PersistTimeout          time.Duration
	MaxJSONMessageBytes     int64
	OutboundQueueSize       int
	MaxAudioChunksPerSecond int
	MaxAudioBytesPerSecond  int64
	InboundBurstSeconds     int
	STTLanguage             string
	Trigger                 TriggerConfig
}

type Dependencies struct {
	Conn      Conn
	Logger    *slog.Logger
	Profile   Profile
	STT       stt.Transcriber
	Responder Responder
	TTS       tts.Synthesizer
	Recorder  TurnRecorder
	Meter     usage.Meter
	Observer  Observer
	RequestID string
	Config    Config
	Now       func() time.Time
}

// LiveSession runs the turn pipeline for one call connection.
type LiveSession struct {
	conn      Conn
	logger    *slog.Logger
	profile   Profile
	stt       stt.Transcriber
	responder Responder
	tts       tts.Synthesizer
	recorder  TurnRecorder
	meter     usage.Meter
	observer  Observer
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame
	results          chan stageResult

	runOnce      sync.Once
	teardownOnce sync.Once
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// stageResult is posted back to the run loop by a pipeline stage. stage is
// the state the turn was in when the stage started.
type stageResult struct {
	turnID     int
	stage      State
	transcript stt.Transcript
	reply      llm.Reply
	audio      []byte
	err        error
}

type activeTurn struct {
	id         int
	ctx        context.Context
	cancel     context.CancelFunc
	timer      *time.Timer
	startedAt  time.Time
	greeting   bool
	callerText string
	confidence float64
	fallback   bool
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.STT == nil {
		return nil, fmt.Errorf("stt provider is required")
	}
	if deps.Responder == nil {
		return nil, fmt.Errorf("responder is required")
	}
	if deps.TTS == nil {
		return nil, fmt.Errorf("tts provider is required")
	}
	if strings.TrimSpace(deps.Profile.CallID) == "" {
		return nil, fmt.Errorf("call id is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 256
	}
	if deps.Config.PersistTimeout <= 0 {
		deps.Config.PersistTimeout = 5 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	logger := deps.Logger.With("call_id", deps.Profile.CallID)
	if deps.RequestID != "" {
		logger = logger.With("request_id", deps.RequestID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		conn:             deps.Conn,
		logger:           logger,
		profile:          deps.Profile,
		stt:              deps.STT,
		responder:        deps.Responder,
		tts:              deps.TTS,
		recorder:         deps.Recorder,
		meter:            deps.Meter,
		observer:         deps.Observer,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		results:          make(chan stageResult, 4),
	}, nil
}

// Profile returns the configuration snapshot the session runs with.
func (s *LiveSession) Profile() Profile {
	return s.profile
}

// Run drives the session until the caller hangs up, the connection fails or
// the session is canceled. It may be called once.
func (s *LiveSession) Run() error {
	err := errors.New("session already ran")
	s.runOnce.Do(func() {
		err = s.run()
	})
	return err
}

func (s *LiveSession) run() error {
	startedAt := s.now()
	s.observer.SessionStarted(s.profile.Origin)
	s.logger.Info("live session started", "agent_id", s.profile.AgentID, "origin", s.profile.Origin)

	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	l := &runLoop{
		s:       s,
		history: newHistory(),
		trigger: NewTrigger(s.cfg.Trigger),
		limiter: newInboundLimiter(s.now, s.cfg.MaxAudioChunksPerSecond, s.cfg.MaxAudioBytesPerSecond, s.cfg.InboundBurstSeconds),
	}
	defer s.teardown(l, startedAt, writerErrCh)

	var sessionTimer *time.Timer
	if s.cfg.MaxSessionDuration > 0 {
		sessionTimer = time.NewTimer(s.cfg.MaxSessionDuration)
		defer sessionTimer.Stop()
	}
	sessionTimerCh := func() <-chan time.Time {
		if sessionTimer == nil {
			return nil
		}
		return sessionTimer.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-writerErrCh:
			if err != nil {
				s.logger.Warn("outbound writer failed", "error", err)
				return err
			}
			return nil
		case frame, ok := <-readCh:
			if !ok {
				return nil
			}
			if frame.err != nil {
				if !websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug("live read ended", "error", frame.err)
				}
				return nil
			}
			if stop := l.handleFrame(frame); stop {
				return nil
			}
		case res := <-s.results:
			l.handleResult(res)
		case <-l.turnTimerC():
			l.timeoutTurn()
		case <-sessionTimerCh():
			s.logger.Info("max session duration reached")
			_ = s.sendControl(protocol.NewError("max session duration reached"))
			return nil
		}
		if l.fatal != nil {
			return l.fatal
		}
	}
}

func (s *LiveSession) teardown(l *runLoop, startedAt time.Time, writerErrCh <-chan error) {
	s.teardownOnce.Do(func() {
		if l.turn != nil {
			l.turn.cancel()
			if l.turn.timer != nil {
				l.turn.timer.Stop()
			}
			l.turn = nil
		}
		if l.machine.state != StateTerminal {
			_ = l.transition(StateTerminal)
		}
		s.cancel()

		wait := 100 * time.Millisecond
		if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
			wait = s.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
		timer.Stop()
		_ = s.conn.Close()

		d := s.now().Sub(startedAt)
		s.observer.SessionEnded(s.profile.Origin, d)
		s.recordUsage(usage.Event{
			Kind:     usage.KindCallSeconds,
			Quantity: int64(math.Ceil(d.Seconds())),
			At:       s.now(),
		})
		s.logger.Info("live session ended",
			"duration_ms", d.Milliseconds(),
			"turns", l.turnSeq,
			"history_len", l.history.len(),
			"last_activity_at", l.lastActivityAt,
		)
	})
}

// runLoop is the state owned by the Run goroutine.
type runLoop struct {
	s       *LiveSession
	machine turnMachine
	history *history
	trigger Trigger
	limiter *inboundLimiter

	pending        []byte
	turn           *activeTurn
	turnSeq        int
	greeted        bool
	greetDeferred  bool
	streamSID      string
	lastActivityAt time.Time
	fatal          error
}

func (l *runLoop) transition(to State) error {
	from := l.machine.state
	if err := l.machine.transition(to); err != nil {
		l.s.logger.Error("session state machine violated", "from", from.String(), "to", to.String(), "error", err)
		if l.fatal == nil {
			l.fatal = err
		}
		return err
	}
	l.s.logger.Debug("session state", "from", from.String(), "state", to.String())
	return nil
}

func (l *runLoop) turnTimerC() <-chan time.Time {
	if l.turn == nil || l.turn.timer == nil {
		return nil
	}
	return l.turn.timer.C
}

func (l *runLoop) handleFrame(frame inboundFrame) (stop bool) {
	if frame.messageType != websocket.TextMessage {
		l.s.logger.Debug("ignoring non-text frame", "message_type", frame.messageType)
		return false
	}
	msg, err := protocol.DecodeInbound(frame.data)
	if err != nil {
		l.s.logger.Debug("invalid inbound frame", "error", err)
		_ = l.s.sendControl(protocol.NewError(err.Error()))
		return false
	}

	switch m := msg.(type) {
	case protocol.Connected:
		l.onConnected()
	case protocol.Start:
		if m.StreamSID != "" {
			l.streamSID = m.StreamSID
		}
		l.s.logger.Info("media stream started", "stream_sid", m.StreamSID, "call_sid", m.CallSID)
	case protocol.Media:
		return l.onMedia(m)
	case protocol.Mark:
		l.s.logger.Debug("playback mark", "name", m.Name)
	case protocol.Stop:
		l.s.logger.Info("media stream stopped")
		return true
	case protocol.Ping:
		_ = l.s.sendControl(protocol.NewPong())
	case protocol.Unknown:
		l.s.logger.Debug("ignoring unknown event", "event", m.Event)
	}
	return false
}

func (l *runLoop) onConnected() {
	if l.greeted {
		l.s.logger.Debug("ignoring repeated connected event")
		return
	}
	l.greeted = true
	l.startGreeting()
}

func (l *runLoop) onMedia(m protocol.Media) (stop bool) {
	if !l.limiter.Allow(len(m.Audio)) {
		l.s.logger.Warn("inbound audio rate limit exceeded")
		_ = l.s.sendControl(protocol.NewError("inbound audio rate limit exceeded"))
		return true
	}
	if l.streamSID == "" && m.StreamSID != "" {
		l.streamSID = m.StreamSID
	}
	pcm := audio.DecodeMuLaw(m.Audio)
	l.lastActivityAt = l.s.now()
	l.pending = append(l.pending, pcm...)
	l.trigger.Observe(pcm)
	if l.machine.state == StateIdle {
		if l.transition(StateAccumulating) != nil {
			return false
		}
	}
	l.maybeDispatch()
	return false
}

// idleTrigger is implemented by triggers that can tell when buffered audio
// holds nothing but silence.
type idleTrigger interface {
	Idle() bool
}

// maybeDispatch starts a turn when the trigger fires and no turn is in flight.
func (l *runLoop) maybeDispatch() {
	if it, ok := l.trigger.(idleTrigger); ok && l.machine.state == StateAccumulating && it.Idle() {
		l.pending = nil
		l.trigger.Reset()
		return
	}
	if l.machine.state != StateAccumulating || len(l.pending) == 0 || !l.trigger.Ready() {
		return
	}
	pcm := l.pending
	l.pending = nil
	l.trigger.Reset()
	if l.transition(StateTranscribing) != nil {
		return
	}
	t := l.beginTurn(false)
	go l.s.transcribe(t.ctx, t.id, pcm)
}

func (l *runLoop) beginTurn(greeting bool) *activeTurn {
	l.turnSeq++
	ctx, cancel := l.s.newTurnContext()
	t := &activeTurn{
		id:        l.turnSeq,
		ctx:       ctx,
		cancel:    cancel,
		startedAt: l.s.now(),
		greeting:  greeting,
	}
	if l.s.cfg.TurnTimeout > 0 {
		t.timer = time.NewTimer(l.s.cfg.TurnTimeout)
	}
	l.turn = t
	return t
}

func (l *runLoop) startGreeting() {
	text := strings.TrimSpace(l.s.profile.Greeting)
	if text == "" {
		return
	}
	if l.machine.state.InFlight() {
		l.greetDeferred = true
		return
	}
	if l.transition(StateSynthesizing) != nil {
		return
	}
	t := l.beginTurn(true)
	l.history.appendAgent(text)
	_ = l.s.sendControl(protocol.NewAgentResponse(text))
	l.s.recordTurn(Turn{AgentText: text, At: l.s.now()})
	go l.s.synthesize(t.ctx, t.id, text)
}

func (l *runLoop) handleResult(res stageResult) {
	if l.turn == nil || res.turnID != l.turn.id || res.stage != l.machine.state {
		l.s.logger.Debug("dropping stale stage result", "turn_id", res.turnID, "stage", res.stage.String())
		return
	}
	switch res.stage {
	case StateTranscribing:
		l.onTranscript(res)
	case StateGenerating:
		l.onReply(res)
	case StateSynthesizing:
		l.onAudio(res)
	case StateSending:
		l.onSent(res)
	}
}

func (l *runLoop) onTranscript(res stageResult) {
	if res.err != nil {
		l.failTurn(OutcomeSTTFailed, "transcription failed", res.err)
		return
	}
	text := strings.TrimSpace(res.transcript.Text)
	if text == "" {
		l.finishTurn(OutcomeNoSpeech)
		return
	}
	l.history.appendCaller(text)
	l.turn.callerText = text
	l.turn.confidence = res.transcript.Confidence
	_ = l.s.sendControl(protocol.NewTranscript(text, res.transcript.Confidence))
	if l.transition(StateGenerating) != nil {
		return
	}
	go l.s.generate(l.turn.ctx, l.turn.id, l.history.snapshot())
}

func (l *runLoop) onReply(res stageResult) {
	reply := res.reply
	l.history.appendAgent(reply.Text)
	l.turn.fallback = reply.Fallback
	_ = l.s.sendControl(protocol.NewAgentResponse(reply.Text))
	l.s.recordTurn(Turn{
		CallerText: l.turn.callerText,
		Confidence: l.turn.confidence,
		AgentText:  reply.Text,
		Fallback:   reply.Fallback,
		At:         l.s.now(),
	})
	if l.transition(StateSynthesizing) != nil {
		return
	}
	go l.s.synthesize(l.turn.ctx, l.turn.id, reply.Text)
}

func (l *runLoop) onAudio(res stageResult) {
	if res.err != nil {
		l.failTurn(OutcomeTTSFailed, "synthesis failed", res.err)
		return
	}
	if l.transition(StateSending) != nil {
		return
	}
	go l.s.send(l.turn.ctx, l.turn.id, l.streamSID, res.audio)
}

func (l *runLoop) onSent(res stageResult) {
	if res.err != nil {
		l.failTurn(OutcomeSendFailed, "audio delivery failed", res.err)
		return
	}
	outcome := OutcomeCompleted
	switch {
	case l.turn.greeting:
		outcome = OutcomeGreeting
	case l.turn.fallback:
		outcome = OutcomeLLMFallback
	}
	l.finishTurn(outcome)
}

func (l *runLoop) failTurn(outcome, message string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		outcome, message = OutcomeTimedOut, "turn timed out"
	}
	l.s.logger.Warn("turn failed", "turn_id", l.turn.id, "state", l.machine.state.String(), "outcome", outcome, "error", err)
	_ = l.s.sendControl(protocol.NewError(message))
	l.finishTurn(outcome)
}

func (l *runLoop) timeoutTurn() {
	if l.turn == nil || !l.machine.state.InFlight() {
		return
	}
	l.s.logger.Warn("turn timed out", "turn_id", l.turn.id, "state", l.machine.state.String())
	_ = l.s.sendControl(protocol.NewError("turn timed out"))
	l.finishTurn(OutcomeTimedOut)
}

// finishTurn releases the turn and immediately reconsiders audio that was
// buffered while it ran.
func (l *runLoop) finishTurn(outcome string) {
	t := l.turn
	t.cancel()
	if t.timer != nil {
		t.timer.Stop()
	}
	l.turn = nil
	l.s.observer.TurnCompleted(outcome, l.s.now().Sub(t.startedAt))

	next := StateIdle
	if len(l.pending) > 0 {
		next = StateAccumulating
	}
	if l.transition(next) != nil {
		return
	}
	if l.greetDeferred {
		l.greetDeferred = false
		l.startGreeting()
		return
	}
	l.maybeDispatch()
}

func (s *LiveSession) transcribe(ctx context.Context, turnID int, pcm []byte) {
	start := s.now()
	tr, err := s.stt.Transcribe(ctx, pcm, stt.Options{
		Language:   s.cfg.STTLanguage,
		Encoding:   "pcm_s16le",
		SampleRate: audio.SampleRate,
	})
	s.observer.StageCompleted("stt", s.now().Sub(start), err)
	s.post(stageResult{turnID: turnID, stage: StateTranscribing, transcript: tr, err: err})
}

func (s *LiveSession) generate(ctx context.Context, turnID int, history []llm.Message) {
	start := s.now()
	reply := s.responder.Respond(ctx, s.profile.SystemPrompt, history, s.profile.ModelID)
	var err error
	if reply.Fallback {
		err = errReplyFallback
	}
	s.observer.StageCompleted("llm", s.now().Sub(start), err)
	s.post(stageResult{turnID: turnID, stage: StateGenerating, reply: reply})
}

func (s *LiveSession) synthesize(ctx context.Context, turnID int, text string) {
	start := s.now()
	pcm, err := s.tts.Synthesize(ctx, text, tts.Options{
		Voice:      s.profile.VoiceID,
		SampleRate: audio.SampleRate,
	})
	s.observer.StageCompleted("tts", s.now().Sub(start), err)
	s.post(stageResult{turnID: turnID, stage: StateSynthesizing, audio: pcm, err: err})
}

func (s *LiveSession) send(ctx context.Context, turnID int, streamSID string, pcm []byte) {
	start := s.now()
	err := s.sendAudio(ctx, streamSID, pcm)
	s.observer.StageCompleted("send", s.now().Sub(start), err)
	s.post(stageResult{turnID: turnID, stage: StateSending, err: err})
}

// sendAudio encodes pcm to mu-law frames and queues them followed by the
// audio_complete mark.
func (s *LiveSession) sendAudio(ctx context.Context, streamSID string, pcm []byte) error {
	for _, frame := range audio.EncodeFrames(pcm, audio.FrameBytes) {
		if err := s.enqueueAudio(ctx, protocol.NewMedia(streamSID, frame)); err != nil {
			return err
		}
	}
	return s.enqueueAudio(ctx, protocol.NewMark(streamSID, protocol.MarkAudioComplete))
}

func (s *LiveSession) post(res stageResult) {
	select {
	case s.results <- res:
	case <-s.ctx.Done():
	}
}

// enqueueAudio blocks until the writer has room, so reply audio is never
// dropped while the turn is alive.
func (s *LiveSession) enqueueAudio(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.outboundNormal <- outboundFrame{payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *LiveSession) sendControl(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.outboundPriority <- outboundFrame{payload: payload}:
		return nil
	default:
		s.logger.Warn("outbound control queue full; dropping event")
		return errBackpressure
	}
}

func (s *LiveSession) recordTurn(t Turn) {
	t.CallID = s.profile.CallID
	t.AgentID = s.profile.AgentID
	t.UserID = s.profile.UserID
	if s.recorder != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
			defer cancel()
			if err := s.recorder.RecordTurn(ctx, t); err != nil {
				s.logger.Warn("record turn failed", "error", err)
			}
		}()
	}
	s.recordUsage(usage.Event{Kind: usage.KindTurn, Quantity: 1, At: t.At})
}

func (s *LiveSession) recordUsage(ev usage.Event) {
	if s.meter == nil {
		return
	}
	ev.CallID = s.profile.CallID
	ev.AgentID = s.profile.AgentID
	ev.UserID = s.profile.UserID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
		defer cancel()
		if err := s.meter.Record(ctx, ev); err != nil {
			s.logger.Warn("record usage failed", "kind", string(ev.Kind), "error", err)
		}
	}()
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		if s.cfg.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// Cancel ends the session. It is safe to call more than once.
func (s *LiveSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// Notify sends an out-of-band error event to the transport.
func (s *LiveSession) Notify(message string) error {
	if s == nil {
		return nil
	}
	return s.sendControl(protocol.NewError(message))
}

func (s *LiveSession) newTurnContext() (context.Context, context.CancelFunc) {
	if s.cfg.TurnTimeout > 0 {
		return context.WithTimeout(s.ctx, s.cfg.TurnTimeout)
	}
	return context.WithCancel(s.ctx)
}
