package server

import (
	"context"
	stdjson "encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"url-time/internal/scheduler"
	"url-time/internal/settings"
	"url-time/internal/visit"
)

type fakeController struct {
	mu      sync.Mutex
	started []settings.Effective
	stops   int
	state   scheduler.RunState
}

func (f *fakeController) StartScheduled(cfg settings.Effective) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, cfg)
	f.state = scheduler.RunState{ScheduledRunning: true, RunID: "run-1"}
	return "run-1", nil
}

func (f *fakeController) StartRandom(cfg settings.Effective) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, cfg)
	f.state = scheduler.RunState{RandomRunning: true, RunID: "run-2"}
	return "run-2", nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = scheduler.RunState{}
}

func (f *fakeController) Status() scheduler.RunState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

type fakePush struct{}

func (fakePush) ServeWS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (fakePush) Observers() int { return 2 }

type fakeHistory struct {
	limits []int
}

func (f *fakeHistory) RecentOutcomes(_ context.Context, limit int) ([]visit.Outcome, error) {
	f.limits = append(f.limits, limit)
	return []visit.Outcome{{Level: visit.LevelInfo, URL: "https://a.example", AccessCount: 1}}, nil
}

func (f *fakeHistory) RecentRuns(_ context.Context, limit int) ([]scheduler.RunInfo, error) {
	return []scheduler.RunInfo{{ID: "run-1", Mode: settings.ModeRandom, Planned: 3}}, nil
}

type testEnv struct {
	server     *Server
	handler    http.Handler
	controller *fakeController
	counters   *visit.Counters
	history    *fakeHistory
	dir        string
}

func newTestEnv(t *testing.T, configJSON string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	if configJSON != "" {
		if err := os.WriteFile(configPath, []byte(configJSON), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	controller := &fakeController{}
	counters := visit.NewCounters()
	history := &fakeHistory{}
	srv, err := New(Options{
		Settings:     settings.NewStore(configPath, nil),
		Overrides:    settings.NewOverrides(),
		Controller:   controller,
		Counters:     counters,
		Push:         fakePush{},
		History:      history,
		WebRoot:      dir,
		HistoryLimit: 20,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{
		server:     srv,
		handler:    srv.Router(),
		controller: controller,
		counters:   counters,
		history:    history,
		dir:        dir,
	}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := stdjson.Unmarshal(recorder.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", recorder.Body.String(), err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for empty options")
	}
}

func TestStartScheduledMergesOverridesOverFile(t *testing.T) {
	env := newTestEnv(t, `{"urls":["https://file.example"],"scheduled_mode":{"check_interval_minutes":5}}`)

	recorder := env.do(http.MethodPost, "/api/start/scheduled", `{"scheduled_mode":{"check_interval_minutes":2}}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var resp map[string]string
	decodeBody(t, recorder, &resp)
	if resp["status"] != "scheduled mode started" {
		t.Fatalf("unexpected status message %q", resp["status"])
	}

	if len(env.controller.started) != 1 {
		t.Fatalf("expected one start, got %d", len(env.controller.started))
	}
	cfg := env.controller.started[0]
	if cfg.Mode != settings.ModeScheduled {
		t.Fatalf("expected scheduled mode, got %q", cfg.Mode)
	}
	if cfg.Scheduled.IntervalMinutes != 2 {
		t.Fatalf("expected override interval 2, got %v", cfg.Scheduled.IntervalMinutes)
	}
	if len(cfg.URLs) != 1 || cfg.URLs[0] != "https://file.example" {
		t.Fatalf("expected file urls, got %v", cfg.URLs)
	}
	if cfg.Random.TotalVisits != settings.DefaultTotalVisits {
		t.Fatalf("expected default total visits, got %d", cfg.Random.TotalVisits)
	}
}

func TestStartRandomWithoutBodyUsesStoredOverrides(t *testing.T) {
	env := newTestEnv(t, "")

	if rec := env.do(http.MethodPost, "/api/start/random", `{"random_mode":{"total_visits":3}}`); rec.Code != http.StatusOK {
		t.Fatalf("first start: expected 200, got %d", rec.Code)
	}
	rec := env.do(http.MethodPost, "/api/start/random", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("second start: expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["status"] != "random mode started" {
		t.Fatalf("unexpected status message %q", resp["status"])
	}

	cfg := env.controller.started[1]
	if cfg.Mode != settings.ModeRandom || cfg.Random.TotalVisits != 3 {
		t.Fatalf("expected remembered override, got %+v", cfg.Random)
	}
	if len(cfg.URLs) != len(settings.DefaultURLs) {
		t.Fatalf("expected default urls when config file is missing, got %v", cfg.URLs)
	}
}

func TestStartRejectsInvalidJSON(t *testing.T) {
	env := newTestEnv(t, "")
	for _, body := range []string{`{"urls":`, `[1,2,3]`, `"text"`} {
		rec := env.do(http.MethodPost, "/api/start/random", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
		var resp map[string]string
		decodeBody(t, rec, &resp)
		if resp["error"] != "invalid JSON" {
			t.Fatalf("body %q: unexpected error %q", body, resp["error"])
		}
	}
	if len(env.controller.started) != 0 {
		t.Fatalf("expected no starts, got %d", len(env.controller.started))
	}
}

func TestStopAlwaysSucceeds(t *testing.T) {
	env := newTestEnv(t, "")
	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodPost, "/api/stop", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp map[string]string
		decodeBody(t, rec, &resp)
		if resp["status"] != "all modes stopped" {
			t.Fatalf("unexpected status message %q", resp["status"])
		}
	}
	if env.controller.stops != 2 {
		t.Fatalf("expected 2 stops, got %d", env.controller.stops)
	}
}

func TestConfigEndpoint(t *testing.T) {
	env := newTestEnv(t, `{"urls":["https://file.example"]}`)
	rec := env.do(http.MethodGet, "/api/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "https://file.example") {
		t.Fatalf("expected file contents, got %q", rec.Body.String())
	}
}

func TestConfigEndpointFailsWhenFileMissing(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(http.MethodGet, "/api/config", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestStatusAndCounts(t *testing.T) {
	env := newTestEnv(t, "")
	env.server.SetWSPort(8005)
	env.counters.Increment("https://a.example")
	env.counters.Increment("https://a.example")
	if rec := env.do(http.MethodPost, "/api/start/scheduled", ""); rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", rec.Code)
	}

	rec := env.do(http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status map[string]any
	decodeBody(t, rec, &status)
	if status["scheduled_running"] != true || status["random_running"] != false {
		t.Fatalf("unexpected flags: %v", status)
	}
	if status["observers"] != float64(2) || status["ws_port"] != float64(8005) {
		t.Fatalf("unexpected observers/port: %v", status)
	}
	if _, ok := status["version"].(map[string]any); !ok {
		t.Fatalf("expected version object, got %v", status["version"])
	}

	rec = env.do(http.MethodGet, "/api/counts", "")
	var counts map[string]int
	decodeBody(t, rec, &counts)
	if len(counts) != 1 || counts["https://a.example"] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestHistoryLimit(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(http.MethodGet, "/api/history?limit=500", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload HistoryPayload
	decodeBody(t, rec, &payload)
	if len(payload.Outcomes) != 1 || len(payload.Runs) != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if env.history.limits[0] != 20 {
		t.Fatalf("expected limit clamped to 20, got %d", env.history.limits[0])
	}

	if rec := env.do(http.MethodGet, "/api/history?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestStaticFilesServeIndex(t *testing.T) {
	env := newTestEnv(t, "")
	if err := os.WriteFile(filepath.Join(env.dir, "index.html"), []byte("<h1>url-time</h1>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	if err := os.WriteFile(filepath.Join(env.dir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatalf("write js: %v", err)
	}

	rec := env.do(http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "url-time") {
		t.Fatalf("expected index.html, got %d %q", rec.Code, rec.Body.String())
	}
	rec = env.do(http.MethodGet, "/app.js", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for asset, got %d", rec.Code)
	}
	rec = env.do(http.MethodGet, "/missing.css", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing asset, got %d", rec.Code)
	}
}

func TestStaticDirectoriesAreNotListed(t *testing.T) {
	env := newTestEnv(t, "")
	if err := os.MkdirAll(filepath.Join(env.dir, "assets"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(env.dir, "assets", "app.css"), []byte("body{}"), 0o644); err != nil {
		t.Fatalf("write css: %v", err)
	}

	for _, target := range []string{"/", "/assets/"} {
		rec := env.do(http.MethodGet, target, "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for directory %s, got %d %q", target, rec.Code, rec.Body.String())
		}
		if strings.Contains(rec.Body.String(), "config.json") || strings.Contains(rec.Body.String(), "app.css") {
			t.Fatalf("directory %s leaked a listing: %q", target, rec.Body.String())
		}
	}
	rec := env.do(http.MethodGet, "/assets/app.css", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for nested asset, got %d", rec.Code)
	}
}

func TestRequestsAreLoggedThroughZap(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	srv, err := New(Options{
		Settings:   settings.NewStore(filepath.Join(t.TempDir(), "config.json"), nil),
		Overrides:  settings.NewOverrides(),
		Controller: &fakeController{},
		Counters:   visit.NewCounters(),
		Push:       fakePush{},
		Logger:     zap.New(core),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/counts", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	entries := logs.Filter(func(e observer.LoggedEntry) bool {
		return e.LoggerName == "http"
	}).FilterMessageSnippet("/api/counts").All()
	if len(entries) != 1 {
		t.Fatalf("expected one request log entry, got %d (%v)", len(entries), logs.All())
	}
	if !strings.Contains(entries[0].Message, "GET") || !strings.Contains(entries[0].Message, " 200") {
		t.Fatalf("unexpected request log %q", entries[0].Message)
	}
}

func TestWebSocketRouteDelegates(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(http.MethodGet, "/ws", "")
	if rec.Code != http.StatusSwitchingProtocols {
		t.Fatalf("expected push endpoint to handle /ws, got %d", rec.Code)
	}
}
