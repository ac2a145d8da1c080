package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-calls/pkg/core/voice/stt"
	"github.com/vango-go/vai-calls/pkg/core/voice/tts"
	"github.com/vango-go/vai-calls/pkg/gateway/config"
	"github.com/vango-go/vai-calls/pkg/gateway/handlers"
	"github.com/vango-go/vai-calls/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-calls/pkg/gateway/live/bootstrap"
	"github.com/vango-go/vai-calls/pkg/gateway/live/session"
	"github.com/vango-go/vai-calls/pkg/gateway/live/sessions"
	"github.com/vango-go/vai-calls/pkg/gateway/metrics"
	"github.com/vango-go/vai-calls/pkg/gateway/mw"
	"github.com/vango-go/vai-calls/pkg/gateway/usage"
)

const (
	RouteCallStream = "/v1/calls/stream"
	RouteChatStream = "/v1/chat/stream"
)

// Dependencies are the long-lived collaborators shared by every session.
type Dependencies struct {
	Resolver    handlers.Resolver
	STT         stt.Transcriber
	Responder   session.Responder
	TTS         tts.Synthesizer
	Recorder    session.TurnRecorder
	Meter       usage.Meter
	Metrics     *metrics.Metrics
	ReadyChecks map[string]handlers.ReadyCheck
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Dependencies

	lifecycle *lifecycle.Lifecycle
	sessions  *sessions.MemoryStore
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		deps:      deps,
		lifecycle: &lifecycle.Lifecycle{},
		sessions:  sessions.NewMemoryStore(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("/", handlers.NotFoundHandler{})
	s.handle("/healthz", handlers.HealthHandler{})
	s.handle("/readyz", handlers.ReadyHandler{
		Lifecycle: s.lifecycle,
		Checks:    s.deps.ReadyChecks,
		Sessions:  s.sessions,
	})
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	s.handle(RouteCallStream, s.streamHandler(bootstrap.KindPhoneCall))
	s.handle(RouteChatStream, s.streamHandler(bootstrap.KindBrowserChat))
}

func (s *Server) handle(pattern string, h http.Handler) {
	if s.deps.Metrics != nil {
		h = mw.Observe(pattern, s.deps.Metrics, h)
	}
	s.mux.Handle(pattern, h)
}

func (s *Server) streamHandler(kind string) handlers.StreamHandler {
	h := handlers.StreamHandler{
		Kind:      kind,
		Config:    s.cfg,
		Logger:    s.logger,
		Lifecycle: s.lifecycle,
		Sessions:  s.sessions,
		Resolver:  s.deps.Resolver,
		STT:       s.deps.STT,
		Responder: s.deps.Responder,
		TTS:       s.deps.TTS,
		Recorder:  s.deps.Recorder,
		Meter:     s.deps.Meter,
	}
	if s.deps.Metrics != nil {
		h.Observer = s.deps.Metrics
		h.Failures = s.deps.Metrics
	}
	return h
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLogWithClientIP(s.logger, s.cfg.TrustProxyHeaders, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining makes readiness fail and new streams get rejected.
func (s *Server) SetDraining(draining bool) {
	s.lifecycle.SetDraining(draining)
}

func (s *Server) ActiveSessions() int {
	return s.sessions.Len()
}

// NotifyLiveSessions sends an error event to every live call and returns
// how many accepted it.
func (s *Server) NotifyLiveSessions(message string) int {
	return s.sessions.NotifyAll(message)
}

// WaitLiveSessions blocks until every live call ended or ctx is done.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.sessions.Wait(ctx)
}

// CloseLiveSessions cancels every live call.
func (s *Server) CloseLiveSessions() int {
	return s.sessions.CloseAll()
}
