package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_SessionLifecycle(t *testing.T) {
	m := New("")
	m.SessionStarted("phone_call")
	m.SessionStarted("browser_chat")
	m.SessionEnded("phone_call", 3*time.Second)

	if got := testutil.ToFloat64(m.LiveSessionsActive); got != 1 {
		t.Fatalf("active=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LiveSessionsTotal.WithLabelValues("phone_call")); got != 1 {
		t.Fatalf("phone sessions=%v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.LiveSessionDuration); got != 1 {
		t.Fatalf("duration series=%d, want 1", got)
	}
}

func TestMetrics_StagesAndTurns(t *testing.T) {
	m := New("test")
	m.StageCompleted("stt", 100*time.Millisecond, nil)
	m.StageCompleted("stt", 200*time.Millisecond, errors.New("boom"))
	m.StageCompleted("tts", 50*time.Millisecond, nil)
	m.TurnCompleted("completed", time.Second)
	m.TurnCompleted("completed", 2*time.Second)
	m.TurnCompleted("no_speech", 10*time.Millisecond)

	if got := testutil.ToFloat64(m.StageErrors.WithLabelValues("stt")); got != 1 {
		t.Fatalf("stt errors=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("completed")); got != 2 {
		t.Fatalf("completed=%v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.StageDuration); got != 2 {
		t.Fatalf("stage series=%d, want 2", got)
	}
}

func TestMetrics_HandlerExposesRegistry(t *testing.T) {
	m := New("vai_calls")
	m.RecordRequest("/healthz", 200, 5*time.Millisecond)
	m.RecordBootstrapFailure("phone_call")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`vai_calls_requests_total{route="/healthz",status="200"} 1`,
		`vai_calls_bootstrap_failures_total{origin="phone_call"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
