package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/vai-calls/pkg/core/llm"
	"github.com/vango-go/vai-calls/pkg/core/voice/stt"
	"github.com/vango-go/vai-calls/pkg/core/voice/tts"
	"github.com/vango-go/vai-calls/pkg/gateway/config"
	"github.com/vango-go/vai-calls/pkg/gateway/handlers"
	"github.com/vango-go/vai-calls/pkg/gateway/live/bootstrap"
	"github.com/vango-go/vai-calls/pkg/gateway/live/session"
	"github.com/vango-go/vai-calls/pkg/gateway/metrics"
)

type resolverFunc func(ctx context.Context, o bootstrap.Origin) (session.Profile, error)

func (f resolverFunc) Resolve(ctx context.Context, o bootstrap.Origin) (session.Profile, error) {
	return f(ctx, o)
}

type silentSTT struct{}

func (silentSTT) Name() string { return "silent" }
func (silentSTT) Transcribe(context.Context, []byte, stt.Options) (stt.Transcript, error) {
	return stt.Transcript{}, nil
}

type echoResponder struct{}

func (echoResponder) Respond(context.Context, string, []llm.Message, string) llm.Reply {
	return llm.Reply{Text: "ok"}
}

type silentTTS struct{}

func (silentTTS) Name() string { return "silent" }
func (silentTTS) Synthesize(context.Context, string, tts.Options) ([]byte, error) {
	return nil, nil
}

func testConfig() config.Config {
	return config.Config{
		CORSAllowedOrigins: map[string]struct{}{},
		TurnTimeout:        time.Second,
		WSWriteTimeout:     time.Second,
		HandshakeTimeout:   time.Second,
	}
}

func newTestServer(resolver handlers.Resolver, m *metrics.Metrics) *Server {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(testConfig(), logger, Dependencies{
		Resolver:  resolver,
		STT:       silentSTT{},
		Responder: echoResponder{},
		TTS:       silentTTS{},
		Metrics:   m,
		ReadyChecks: map[string]handlers.ReadyCheck{
			"store": func(context.Context) error { return nil },
		},
	})
}

func knownCall(_ context.Context, o bootstrap.Origin) (session.Profile, error) {
	pc, ok := o.(bootstrap.PhoneCall)
	if !ok || pc.CallID != "CA1" {
		return session.Profile{}, fmt.Errorf("%w: unknown call", bootstrap.ErrUnresolved)
	}
	return session.Profile{CallID: pc.CallID, AgentID: pc.AgentID, Origin: bootstrap.KindPhoneCall}, nil
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s := newTestServer(resolverFunc(knownCall), nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestServer_StreamRoutesRejectMissingParams(t *testing.T) {
	s := newTestServer(resolverFunc(knownCall), nil)

	for _, target := range []string{RouteCallStream + "?callId=CA1", RouteChatStream + "?identity=u1"} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s status=%d body=%q", target, rr.Code, rr.Body.String())
		}
	}
}

func TestServer_DrainingFailsReadinessAndRejectsStreams(t *testing.T) {
	s := newTestServer(resolverFunc(knownCall), nil)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready status=%d body=%q", rr.Code, rr.Body.String())
	}

	s.SetDraining(true)

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status=%d, want 503", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, RouteCallStream+"?callId=CA1&agentId=a1", nil))
	if rr.Code != 529 {
		t.Fatalf("stream status=%d, want 529", rr.Code)
	}
}

func TestServer_MetricsEndpointReportsRequests(t *testing.T) {
	s := newTestServer(resolverFunc(knownCall), metrics.New("test"))

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	if body := rr.Body.String(); !strings.Contains(body, `test_requests_total{route="/healthz",status="200"} 1`) {
		t.Fatalf("metrics body missing request counter:\n%s", body)
	}
}

func TestServer_LiveSessionsLifecycle(t *testing.T) {
	s := newTestServer(resolverFunc(knownCall), nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + RouteCallStream + "?callId=CA1&agentId=a1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for s.ActiveSessions() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("active sessions=%d, want 1", s.ActiveSessions())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if n := s.NotifyLiveSessions("server shutting down"); n != 1 {
		t.Fatalf("notified=%d, want 1", n)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"message":"server shutting down"`) {
		t.Fatalf("notify frame=%s", data)
	}

	if n := s.CloseLiveSessions(); n != 1 {
		t.Fatalf("closed=%d, want 1", n)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if !s.WaitLiveSessions(ctx) {
		t.Fatalf("live sessions did not finish")
	}
	if s.ActiveSessions() != 0 {
		t.Fatalf("active sessions=%d, want 0", s.ActiveSessions())
	}
}

func TestServer_UnknownCallClosesStream(t *testing.T) {
	m := metrics.New("test")
	s := newTestServer(resolverFunc(knownCall), m)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + RouteCallStream + "?callId=CA404&agentId=a1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
			t.Fatalf("err=%v, want policy violation close", err)
		}
		break
	}
	if s.ActiveSessions() != 0 {
		t.Fatalf("active sessions=%d, want 0", s.ActiveSessions())
	}
}
