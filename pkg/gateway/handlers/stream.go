package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-calls/pkg/core"
	"github.com/vango-go/vai-calls/pkg/core/voice/stt"
	"github.com/vango-go/vai-calls/pkg/core/voice/tts"
	"github.com/vango-go/vai-calls/pkg/gateway/config"
	"github.com/vango-go/vai-calls/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-calls/pkg/gateway/live/bootstrap"
	"github.com/vango-go/vai-calls/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-calls/pkg/gateway/live/session"
	"github.com/vango-go/vai-calls/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-calls/pkg/gateway/mw"
	"github.com/vango-go/vai-calls/pkg/gateway/usage"
)

// Resolver builds the session profile for a stream origin.
type Resolver interface {
	Resolve(ctx context.Context, o bootstrap.Origin) (session.Profile, error)
}

// BootstrapFailureRecorder counts streams that were upgraded but could not
// be resolved.
type BootstrapFailureRecorder interface {
	RecordBootstrapFailure(origin string)
}

// StreamHandler upgrades a media stream request and runs one call session
// over it. Kind selects which query parameters identify the origin.
type StreamHandler struct {
	Kind      string
	Config    config.Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Sessions  sessions.Store

	Resolver  Resolver
	STT       stt.Transcriber
	Responder session.Responder
	TTS       tts.Synthesizer
	Recorder  session.TurnRecorder
	Meter     usage.Meter
	Observer  session.Observer
	Failures  BootstrapFailureRecorder
}

func (h StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		writeCoreError(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed"})
		return
	}
	if h.Lifecycle.IsDraining() {
		writeCoreError(w, reqID, core.NewOverloadedError("gateway is draining", "draining"))
		return
	}
	if !h.originAllowed(r) {
		writeCoreError(w, reqID, core.NewPermissionError("origin is not allowed", "Origin"))
		return
	}
	origin, err := h.originFromRequest(r)
	if err != nil {
		writeCoreError(w, reqID, core.NewInvalidRequestError(err.Error()))
		return
	}

	logger := h.logger().With("request_id", reqID, "origin", origin.Kind())

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.HandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	resolveTimeout := h.Config.HandshakeTimeout
	if resolveTimeout <= 0 {
		resolveTimeout = 5 * time.Second
	}
	resolveCtx, cancel := context.WithTimeout(r.Context(), resolveTimeout)
	profile, err := h.Resolver.Resolve(resolveCtx, origin)
	cancel()
	if err != nil {
		logger.Warn("stream bootstrap failed", "error", err)
		if h.Failures != nil {
			h.Failures.RecordBootstrapFailure(origin.Kind())
		}
		message := "call could not be resolved"
		if !errors.Is(err, bootstrap.ErrUnresolved) {
			message = "call bootstrap failed"
		}
		h.closeWithError(conn, websocket.ClosePolicyViolation, message)
		return
	}

	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    logger,
		Profile:   profile,
		STT:       h.STT,
		Responder: h.Responder,
		TTS:       h.TTS,
		Recorder:  h.Recorder,
		Meter:     h.Meter,
		Observer:  h.Observer,
		RequestID: reqID,
		Config:    sessionConfig(h.Config),
	})
	if err != nil {
		logger.Error("session setup failed", "error", err)
		h.closeWithError(conn, websocket.CloseInternalServerErr, "session setup failed")
		return
	}

	if h.Sessions != nil {
		err := h.Sessions.Create(profile.CallID, sessions.Handle{Cancel: s.Cancel, Notify: s.Notify})
		if err != nil {
			logger.Warn("duplicate call stream rejected", "call_id", profile.CallID, "error", err)
			s.Cancel()
			h.closeWithError(conn, websocket.ClosePolicyViolation, "call already has an active stream")
			return
		}
		defer h.Sessions.Remove(profile.CallID)
	}

	if err := s.Run(); err != nil {
		logger.Debug("call session ended with error", "call_id", profile.CallID, "error", err)
	}
}

func (h StreamHandler) originFromRequest(r *http.Request) (bootstrap.Origin, error) {
	switch h.Kind {
	case bootstrap.KindBrowserChat:
		return bootstrap.BrowserChatFromRequest(r)
	default:
		return bootstrap.PhoneCallFromRequest(r)
	}
}

func (h StreamHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

// closeWithError sends an error event and a close frame before the socket
// is torn down.
func (h StreamHandler) closeWithError(conn *websocket.Conn, code int, message string) {
	timeout := h.Config.WSWriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(protocol.NewError(message))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, message), deadline)
}

func (h StreamHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func sessionConfig(cfg config.Config) session.Config {
	return session.Config{
		TurnTimeout:             cfg.TurnTimeout,
		PingInterval:            cfg.WSPingInterval,
		WriteTimeout:            cfg.WSWriteTimeout,
		ReadTimeout:             cfg.WSReadTimeout,
		MaxSessionDuration:      cfg.MaxSessionDuration,
		PersistTimeout:          cfg.PersistTimeout,
		MaxJSONMessageBytes:     cfg.MaxJSONMessageBytes,
		OutboundQueueSize:       cfg.OutboundQueueSize,
		MaxAudioChunksPerSecond: cfg.MaxAudioFPS,
		MaxAudioBytesPerSecond:  cfg.MaxAudioBytesPerSecond,
		InboundBurstSeconds:     cfg.InboundBurstSeconds,
		STTLanguage:             cfg.STTLanguage,
		Trigger: session.TriggerConfig{
			Policy:          cfg.Trigger,
			Chunks:          cfg.TriggerChunks,
			Threshold:       cfg.SilenceThreshold,
			HangoverFrames:  cfg.SilenceHangoverFrames,
			MinSpeechFrames: cfg.MinSpeechFrames,
			MaxFrames:       cfg.MaxUtteranceFrames,
		},
	}
}
