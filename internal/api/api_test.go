package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ibeckermayer/unrepost/internal/app"
	"github.com/ibeckermayer/unrepost/internal/bridge"
	"github.com/ibeckermayer/unrepost/internal/runstate"
)

type fakeController struct {
	mu   sync.Mutex
	msgs []bridge.Message
}

func (f *fakeController) Dispatch(ctx context.Context, msg bridge.Message) bridge.Response {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()
	if msg.Action == "broken" {
		return bridge.Response{Action: msg.Action, Error: "boom"}
	}
	return bridge.Response{OK: true, Action: msg.Action, Data: map[string]any{"echo": msg.String("value")}}
}

func (f *fakeController) Status() app.Status {
	return app.Status{
		Run:             runstate.Snapshot{PhaseName: "running", FoundCount: 4, RemovedCount: 1},
		SelectorVersion: "2025.11.02",
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := NewServer("", &fakeController{}, nil)
	w := do(t, s.Handler(), http.MethodGet, "/health", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Fatalf("health = %d %s", w.Code, w.Body)
	}
}

func TestStatus(t *testing.T) {
	s := NewServer("", &fakeController{}, nil)
	w := do(t, s.Handler(), http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	var got struct {
		Run struct {
			Phase   string `json:"phase"`
			Found   int    `json:"found_count"`
			Removed int    `json:"removed_count"`
		} `json:"run"`
		Version string `json:"selector_version"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Run.Phase != "running" || got.Run.Found != 4 || got.Run.Removed != 1 || got.Version != "2025.11.02" {
		t.Fatalf("status = %+v", got)
	}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantOK   bool
	}{
		{"ok", `{"action": "ping", "value": "hi", "correlationId": "c1"}`, http.StatusOK, true},
		{"handler error", `{"action": "broken"}`, http.StatusOK, false},
		{"no action", `{"value": "hi"}`, http.StatusBadRequest, false},
		{"not json", `ping`, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{}
			s := NewServer("", ctrl, nil)
			w := do(t, s.Handler(), http.MethodPost, "/api/commands", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d (%s)", w.Code, tt.wantCode, w.Body)
			}
			var resp bridge.Response
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.OK != tt.wantOK {
				t.Fatalf("ok = %v, want %v", resp.OK, tt.wantOK)
			}
		})
	}
}

func TestCommandStampsSender(t *testing.T) {
	ctrl := &fakeController{}
	s := NewServer("", ctrl, nil)
	do(t, s.Handler(), http.MethodPost, "/api/commands", `{"action": "ping", "value": "hi"}`)

	if len(ctrl.msgs) != 1 {
		t.Fatalf("dispatched %d messages", len(ctrl.msgs))
	}
	msg := ctrl.msgs[0]
	if msg.SenderID != SenderID || msg.Timestamp.IsZero() || msg.String("value") != "hi" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestEvents(t *testing.T) {
	log := NewEventLog(3)
	for _, a := range []string{"a", "b", "c", "d"} {
		log.Add(bridge.Message{Action: a, Timestamp: time.Now()})
	}
	s := NewServer("", &fakeController{}, log)

	tests := []struct {
		query string
		code  int
		want  []string
	}{
		{"", http.StatusOK, []string{"b", "c", "d"}},
		{"?limit=2", http.StatusOK, []string{"c", "d"}},
		{"?limit=50", http.StatusOK, []string{"b", "c", "d"}},
		{"?limit=0", http.StatusBadRequest, nil},
		{"?limit=x", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := do(t, s.Handler(), http.MethodGet, "/api/events"+tt.query, "")
			if w.Code != tt.code {
				t.Fatalf("code = %d, want %d", w.Code, tt.code)
			}
			if tt.want == nil {
				return
			}
			var body struct {
				Events []bridge.Message `json:"events"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, m := range body.Events {
				got = append(got, m.Action)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("events = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventLogPartial(t *testing.T) {
	log := NewEventLog(5)
	log.Add(bridge.Message{Action: "a"})
	log.Add(bridge.Message{Action: "b"})
	got := log.Last(10)
	if len(got) != 2 || got[0].Action != "a" || got[1].Action != "b" {
		t.Fatalf("Last = %+v", got)
	}
}

func TestEventLogRunConsumesBus(t *testing.T) {
	bus := bridge.NewBus(0, 8)
	msgs, cancel := bus.Subscribe()
	log := NewEventLog(10)

	done := make(chan error, 1)
	go func() { done <- log.Run(context.Background(), msgs) }()

	bus.Emit(bridge.EvtStatusUpdate, map[string]any{"status": "x"})
	bus.Emit(bridge.EvtComplete, nil)
	cancel()

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := log.Last(10); len(got) != 2 || got[1].Action != bridge.EvtComplete {
		t.Fatalf("Last = %+v", got)
	}
}
