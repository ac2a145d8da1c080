package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-calls/pkg/gateway/lifecycle"
)

type fixedLen int

func (n fixedLen) Len() int { return int(n) }

func decodeReady(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v body=%q", err, rr.Body.String())
	}
	return resp
}

func TestHealthHandler_OK(t *testing.T) {
	rr := httptest.NewRecorder()
	HealthHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestReadyHandler_Ready(t *testing.T) {
	h := ReadyHandler{
		Lifecycle: &lifecycle.Lifecycle{},
		Checks:    map[string]ReadyCheck{"store": func(context.Context) error { return nil }},
		Sessions:  fixedLen(3),
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	resp := decodeReady(t, rr)
	if resp["ok"] != true || resp["active_sessions"] != float64(3) {
		t.Fatalf("resp=%v", resp)
	}
}

func TestReadyHandler_FailingCheckAndDraining(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	h := ReadyHandler{
		Lifecycle: lc,
		Checks:    map[string]ReadyCheck{"store": func(context.Context) error { return errors.New("connection refused") }},
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	resp := decodeReady(t, rr)
	issues, _ := resp["issues"].([]any)
	if len(issues) != 2 || issues[0] != "store: connection refused" || issues[1] != "draining" {
		t.Fatalf("issues=%v", issues)
	}
	if resp["draining"] != true {
		t.Fatalf("draining=%v", resp["draining"])
	}
}
