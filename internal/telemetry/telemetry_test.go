package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ibeckermayer/unrepost/internal/bridge"
	"github.com/ibeckermayer/unrepost/internal/config"
	"github.com/ibeckermayer/unrepost/internal/store"
)

func testConfig(endpoint string) config.TelemetryConfig {
	return config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   endpoint,
		MaxRetries: 3,
		Backoff:    config.Dur(time.Millisecond),
		QueueSize:  4,
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL+"/"), nil)
	err := c.Send(context.Background(), Event{SessionID: "s1", Type: TypeProcessStarted})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if got.SessionID != "s1" || got.Type != TypeProcessStarted || got.Timestamp.IsZero() {
		t.Errorf("body = %+v", got)
	}
}

func TestSendGivesUp(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"client error not retried", http.StatusBadRequest, 1},
		{"server error retried to the limit", http.StatusInternalServerError, 4},
		{"rate limited retried", http.StatusTooManyRequests, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewClient(testConfig(srv.URL), nil)
			if err := c.Send(context.Background(), Event{Type: "x"}); err == nil {
				t.Fatal("expected error")
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestSendWithoutEndpoint(t *testing.T) {
	c := NewClient(testConfig(""), nil)
	if err := c.Send(context.Background(), Event{Type: "x"}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestRunDrainsQueue(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var info SessionInfo
	var ev Event
	done := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/sessions":
			json.NewDecoder(r.Body).Decode(&info)
		case "/events":
			json.NewDecoder(r.Body).Decode(&ev)
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	if !c.EnqueueSession(SessionInfo{SessionID: "s", SelectorVersion: "v2"}) || !c.Enqueue(Event{SessionID: "s", Type: TypeProcessStarted}) {
		t.Fatal("enqueue rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("queued records not sent")
		}
	}
	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 || paths[0] != "/sessions" || paths[1] != "/events" {
		t.Errorf("paths = %v", paths)
	}
	if info.SessionID != "s" || info.SelectorVersion != "v2" {
		t.Errorf("session body = %+v", info)
	}
	if ev.SessionID != "s" || ev.Type != TypeProcessStarted || ev.Timestamp.IsZero() {
		t.Errorf("event body = %+v", ev)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	c := NewClient(testConfig("http://127.0.0.1:1"), nil)
	for i := 0; i < 4; i++ {
		if !c.Enqueue(Event{Type: "x"}) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	if c.Enqueue(Event{Type: "x"}) {
		t.Fatal("full queue accepted an event")
	}
}

type fakeSender struct {
	sessions []SessionInfo
	events   []Event
}

func (f *fakeSender) EnqueueSession(info SessionInfo) bool {
	f.sessions = append(f.sessions, info)
	return true
}

func (f *fakeSender) Enqueue(ev Event) bool {
	f.events = append(f.events, ev)
	return true
}

func (f *fakeSender) types() []string {
	var out []string
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func TestSinkRecordsRun(t *testing.T) {
	db, err := store.New(t.TempDir() + "/t.db")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	sender := &fakeSender{}
	sink := NewSink(sender, db, func() string { return "v9" })

	now := time.Now()
	msgs := []bridge.Message{
		{Action: bridge.EvtLoginStatusUpdate, Payload: map[string]any{"isLoggedIn": true}, Timestamp: now},
		{Action: bridge.EvtProcessStarted, Timestamp: now},
		{Action: bridge.EvtVideoRemoved, Payload: map[string]any{"index": 1}, Timestamp: now},
		{Action: bridge.EvtVideoSkipped, Payload: map[string]any{"index": 2, "reason": "not reposted"}, Timestamp: now},
		{Action: bridge.EvtComplete, Payload: map[string]any{"removedCount": 1, "totalCount": 2, "duration": 1500}, Timestamp: now},
	}
	for _, m := range msgs {
		sink.Handle(m)
	}

	id := sink.SessionID()
	if id == "" {
		t.Fatal("no session started")
	}
	sess, err := db.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !sess.Finished() || sess.Outcome != "complete" || sess.Removed != 1 || sess.Found != 2 || sess.Processed != 2 || sess.SelectorVersion != "v9" {
		t.Errorf("session = %+v", sess)
	}

	events, err := db.SessionEvents(id)
	if err != nil || len(events) != 4 {
		t.Fatalf("session events = %d, %v", len(events), err)
	}

	want := []string{TypeLoginDetected, TypeProcessStarted, TypeProcessCompleted}
	got := sender.types()
	if len(got) != len(want) {
		t.Fatalf("telemetry types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("telemetry[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if len(sender.sessions) != 1 || sender.sessions[0].SessionID != id {
		t.Errorf("sessions = %+v", sender.sessions)
	}
}

func TestSinkErrorAndCancel(t *testing.T) {
	db, err := store.New(t.TempDir() + "/t.db")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	sender := &fakeSender{}
	sink := NewSink(sender, db, nil)

	sink.Handle(bridge.Message{Action: bridge.EvtProcessStarted})
	first := sink.SessionID()
	sink.Handle(bridge.Message{Action: bridge.EvtUpdateProgress, Payload: map[string]any{"current": 1, "total": 5}})
	sink.Handle(bridge.Message{Action: bridge.EvtVideoRemoved, Payload: map[string]any{"index": 1}})
	sink.Handle(bridge.Message{Action: bridge.EvtUpdateProgress, Payload: map[string]any{"current": 2, "total": 5}})
	sink.Handle(bridge.Message{Action: bridge.EvtVideoSkipped, Payload: map[string]any{"index": 2}})
	sink.Handle(bridge.Message{Action: bridge.EvtUpdateProgress, Payload: map[string]any{"current": 3, "total": 5}})
	sink.Handle(bridge.Message{Action: bridge.EvtVideoRemoved, Payload: map[string]any{"index": 3}})
	sink.Handle(bridge.Message{Action: bridge.EvtError, Payload: map[string]any{"message": "m", "error": "boom"}})

	sink.Handle(bridge.Message{Action: bridge.EvtProcessStarted})
	second := sink.SessionID()
	sink.Handle(bridge.Message{Action: bridge.EvtComplete, Payload: map[string]any{"cancelled": true, "removedCount": 0, "totalCount": 3}})

	if first == second {
		t.Fatal("session id reused")
	}
	s1, _ := db.GetSession(first)
	s2, _ := db.GetSession(second)
	if s1.Outcome != "failed" || s1.Error != "boom" {
		t.Errorf("first = %+v", s1)
	}
	if s1.Found != 5 || s1.Removed != 2 || s1.Processed != 3 {
		t.Errorf("first counts = found %d removed %d processed %d, want 5 2 3", s1.Found, s1.Removed, s1.Processed)
	}
	if s2.Outcome != "cancelled" || s2.Found != 3 || s2.Removed != 0 || s2.Processed != 0 {
		t.Errorf("second = %+v", s2)
	}
}

func TestSinkRunStopsOnClose(t *testing.T) {
	sink := NewSink(nil, nil, nil)
	ch := make(chan bridge.Message, 1)
	ch <- bridge.Message{Action: bridge.EvtStatusUpdate}
	close(ch)
	if err := sink.Run(context.Background(), ch); err != nil {
		t.Fatalf("Run = %v", err)
	}
}
