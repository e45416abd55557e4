package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"kpiprogress/internal/backend"
	"kpiprogress/internal/core"
	applog "kpiprogress/internal/log"
	"kpiprogress/internal/middleware/ratelimit"
	"kpiprogress/internal/sheets/memory"
)

type testServer struct {
	*Server
	store *memory.Store
}

func quietLogger() *applog.Logger {
	return applog.New(applog.Config{Level: slog.LevelError, Output: io.Discard, Component: applog.ComponentHTTP})
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := memory.New([]int{2024, 2025, 2026}, memory.DemoRecords())
	if err != nil {
		t.Fatal(err)
	}
	return newTestServerWith(t, store, store)
}

func newTestServerWith(t *testing.T, be backend.Backend, store *memory.Store) *testServer {
	t.Helper()
	srv := NewServer(":0", be, Options{
		SessionTTL:  time.Hour,
		MaxSessions: 10,
		CurrentYear: func() int { return 2025 },
		RateLimit:   ratelimit.Config{RequestsPerMinute: 1000},
		Logger:      quietLogger(),
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testServer{Server: srv, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) form(t *testing.T, path string, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	ts.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := ts.do(t, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

type pingFailing struct {
	*memory.Store
}

func (pingFailing) Ping(context.Context) error { return errors.New("db gone") }

func TestReadyReportsBackendFailure(t *testing.T) {
	store, _ := memory.New([]int{2025}, nil)
	ts := newTestServerWith(t, pingFailing{store}, store)
	if rr := ts.do(t, http.MethodGet, "/readyz", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d", rr.Code)
	}
}

func TestMiddlewareChain(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/api/years", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}
	if rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing security headers")
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Error("API responses must not be cached")
	}
}

func TestRateLimitOnMutations(t *testing.T) {
	store, _ := memory.New([]int{2025}, nil)
	srv := NewServer(":0", store, Options{
		CurrentYear: func() int { return 2025 },
		RateLimit:   ratelimit.Config{RequestsPerMinute: 1},
		Logger:      quietLogger(),
	})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	ts := &testServer{Server: srv, store: store}

	if rr := ts.do(t, http.MethodPost, "/api/sessions", map[string]any{"parentRef": 1}); rr.Code != http.StatusCreated {
		t.Fatalf("first open status=%d", rr.Code)
	}
	rr := ts.do(t, http.MethodPost, "/api/sessions", map[string]any{"parentRef": 1})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second open status=%d", rr.Code)
	}
	if decode[errorBody](t, rr).Code != "rate_limited" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if rr := ts.do(t, http.MethodGet, "/api/years", nil); rr.Code != http.StatusOK {
		t.Fatalf("reads must not be limited, got %d", rr.Code)
	}
}

func TestStaticAssets(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodGet, "/static/app.css", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("static status=%d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Cache-Control"), "max-age=3600") {
		t.Fatalf("unexpected cache header %q", rr.Header().Get("Cache-Control"))
	}
}

func TestSessionsExpire(t *testing.T) {
	ts := newTestServer(t)
	rr := ts.do(t, http.MethodPost, "/api/sessions", map[string]any{"parentRef": 28})
	id := decode[sessionView](t, rr).ID

	if !ts.sessions.close(id) {
		t.Fatal("close failed")
	}
	if ts.OpenSessions() != 0 {
		t.Fatalf("open sessions = %d", ts.OpenSessions())
	}
	if rr := ts.do(t, http.MethodGet, "/api/sessions/"+id, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("closed session status=%d", rr.Code)
	}
}

func TestSessionRegistryEvictsOldest(t *testing.T) {
	reg := newSessionRegistry(1, time.Hour, quietLogger())
	newSess := func() *core.Session {
		s, err := core.NewSession(core.SessionParams{ParentRef: 1, Options: []core.YearOption{{Key: 2025, Label: "2025"}}})
		if err != nil {
			t.Fatal(err)
		}
		return s
	}
	first := reg.add(newSess())
	if _, err := first.session.SetMonth(core.March, core.Some(3)); err != nil {
		t.Fatal(err)
	}
	reg.add(newSess())

	if _, err := reg.get(first.id); !errors.Is(err, errSessionNotFound) {
		t.Fatalf("expected evicted session, got %v", err)
	}
	if first.session.Dirty() {
		t.Fatal("evicted session should have its edits discarded")
	}
	if reg.size() != 1 {
		t.Fatalf("size = %d", reg.size())
	}
}

func TestCleanupInterval(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		time.Second:      time.Second,
		time.Minute:      15 * time.Second,
		30 * time.Minute: 5 * time.Minute,
	}
	for ttl, want := range cases {
		if got := cleanupInterval(ttl); got != want {
			t.Errorf("cleanupInterval(%v) = %v, want %v", ttl, got, want)
		}
	}
}
