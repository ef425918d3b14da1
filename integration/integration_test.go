package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"url-time/internal/broadcast"
	"url-time/internal/database"
	"url-time/internal/journal"
	"url-time/internal/scheduler"
	"url-time/internal/server"
	"url-time/internal/settings"
	"url-time/internal/visit"
)

type stack struct {
	baseURL    string
	wsURL      string
	target     *httptest.Server
	supervisor *scheduler.Supervisor
}

func startStack(t *testing.T) *stack {
	t.Helper()
	// Debug lines from connection pumps can outlive the test.
	logger := zaptest.NewLogger(t, zaptest.Level(zapcore.InfoLevel))

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("alive"))
	}))
	t.Cleanup(target.Close)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	doc := fmt.Sprintf(`{
  "urls": [%q],
  "scheduled_mode": {"check_interval_minutes": 60},
  "random_mode": {"total_visits": 3, "total_time_seconds": 0},
  "realistic_mode": {"min_delay_seconds": 0, "max_delay_seconds": 0}
}`, target.URL)
	if err := os.WriteFile(configPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	db, err := database.Open()
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	history, err := journal.NewStore(db, 100, logger)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}

	counters := visit.NewCounters()
	hub := broadcast.NewHub(logger)
	supervisor := scheduler.NewSupervisor(visit.NewExecutor(counters, logger), logger, hub, history)
	supervisor.SetRecorder(history)

	srv, err := server.New(server.Options{
		Settings:   settings.NewStore(configPath, logger),
		Overrides:  settings.NewOverrides(),
		Controller: supervisor,
		Counters:   counters,
		Push:       hub,
		History:    history,
		WebRoot:    dir,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()
	deadline := time.Now().Add(time.Second)
	for hub.Register(context.Background(), noopObserver{}) != nil {
		if time.Now().After(deadline) {
			t.Fatal("hub did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Unregister(noopObserver{}.ID())

	api := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := supervisor.Shutdown(ctx); err != nil {
			t.Errorf("supervisor shutdown: %v", err)
		}
		api.Close()
		stopHub()
		<-hubDone
	})

	return &stack{
		baseURL:    api.URL,
		wsURL:      "ws" + strings.TrimPrefix(api.URL, "http") + "/ws",
		target:     target,
		supervisor: supervisor,
	}
}

type noopObserver struct{}

func (noopObserver) ID() string                         { return "startup-probe" }
func (noopObserver) Send(context.Context, []byte) error { return nil }
func (noopObserver) Close() error                       { return nil }

func postJSON(t *testing.T, url, body string) map[string]string {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status %d", url, resp.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return out
}

func getJSON(t *testing.T, url string, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}

func TestRandomModeStreamsOutcomesToWebSocket(t *testing.T) {
	s := startStack(t)

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous; wait until the status endpoint sees it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var status map[string]any
		getJSON(t, s.baseURL+"/api/status", &status)
		if status["observers"] == float64(1) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("observer never registered: %v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp := postJSON(t, s.baseURL+"/api/start/random", "")
	if resp["status"] != "random mode started" {
		t.Fatalf("unexpected start response %v", resp)
	}

	for want := 1; want <= 3; want++ {
		if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
			t.Fatalf("set deadline: %v", err)
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read outcome %d: %v", want, err)
		}
		var outcome map[string]any
		if err := json.Unmarshal(raw, &outcome); err != nil {
			t.Fatalf("decode outcome: %v", err)
		}
		if outcome["level"] != "INFO" || outcome["url"] != s.target.URL {
			t.Fatalf("unexpected outcome %v", outcome)
		}
		if outcome["access_count"] != float64(want) {
			t.Fatalf("expected access_count %d, got %v", want, outcome["access_count"])
		}
		if outcome["mode"] != "random" {
			t.Fatalf("expected random mode, got %v", outcome["mode"])
		}
	}

	var counts map[string]int
	getJSON(t, s.baseURL+"/api/counts", &counts)
	if counts[s.target.URL] != 3 {
		t.Fatalf("expected 3 visits, got %v", counts)
	}

	deadline = time.Now().Add(2 * time.Second)
	for {
		var history server.HistoryPayload
		getJSON(t, s.baseURL+"/api/history", &history)
		if len(history.Runs) == 1 && history.Runs[0].FinishedAt != nil {
			if history.Runs[0].Visits != 3 || history.Runs[0].Reason != scheduler.ReasonCompleted {
				t.Fatalf("unexpected run record %+v", history.Runs[0])
			}
			if len(history.Outcomes) != 3 {
				t.Fatalf("expected 3 journaled outcomes, got %d", len(history.Outcomes))
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never finished: %+v", history.Runs)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScheduledModeColdStartAndStop(t *testing.T) {
	s := startStack(t)

	postJSON(t, s.baseURL+"/api/start/scheduled", `{"urls": [`+fmt.Sprintf("%q", s.target.URL)+`]}`)

	deadline := time.Now().Add(2 * time.Second)
	for {
		var counts map[string]int
		getJSON(t, s.baseURL+"/api/counts", &counts)
		if counts[s.target.URL] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cold-start visit never happened: %v", counts)
		}
		time.Sleep(10 * time.Millisecond)
	}

	var status map[string]any
	getJSON(t, s.baseURL+"/api/status", &status)
	if status["scheduled_running"] != true {
		t.Fatalf("expected scheduled mode running: %v", status)
	}

	resp := postJSON(t, s.baseURL+"/api/stop", "")
	if resp["status"] != "all modes stopped" {
		t.Fatalf("unexpected stop response %v", resp)
	}
	getJSON(t, s.baseURL+"/api/status", &status)
	if status["scheduled_running"] != false || status["random_running"] != false {
		t.Fatalf("expected both flags cleared: %v", status)
	}
}
