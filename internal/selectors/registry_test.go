package selectors

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const remotePayload = `{
	"schema_version": 2,
	"version": "2025.11.02",
	"updated_at": "2025-11-02T10:00:00Z",
	"selectors": {
		"video": {
			"repostButton": ["#missing", ".real-button"],
			"nextButton": "[data-e2e=\"next\"]"
		},
		"extra": {"deep": {"key": ".deep"}}
	}
}`

type memCache struct {
	mu      sync.Mutex
	payload []byte
	err     error
}

func (c *memCache) SaveSelectorCache(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payload = append([]byte(nil), p...)
	return nil
}

func (c *memCache) LoadSelectorCache() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload, c.err
}

func TestDefaultTableCoversWorkflowKeys(t *testing.T) {
	snap := Default()
	for _, key := range []string{
		"nav.profile", "profile.link", "profile.avatar", "profile.repostsTab",
		"profile.repostsTabText", "video.item", "video.repostButton",
		"video.repostFilledIcon", "video.nextButton", "video.closeButton",
		"video.title", "video.author",
	} {
		if len(snap.Selectors[key]) == 0 {
			t.Errorf("bundled table missing %s", key)
		}
	}
	if snap.Version == "" {
		t.Error("bundled table has no version")
	}
}

func TestGetMissingKey(t *testing.T) {
	r := NewRegistry(Options{})
	if list, ok := r.Get("does.not.exist"); ok || list != nil {
		t.Fatalf("Get(missing) = %v, %v; want nil, false", list, ok)
	}
}

func TestParseRemoteFlattensNestedKeys(t *testing.T) {
	snap, err := ParseRemote([]byte(remotePayload))
	if err != nil {
		t.Fatalf("ParseRemote: %v", err)
	}
	if snap.SchemaVersion != 2 || snap.Version != "2025.11.02" {
		t.Errorf("header = %d %q", snap.SchemaVersion, snap.Version)
	}
	if got := snap.Selectors["video.repostButton"]; len(got) != 2 || got[1] != ".real-button" {
		t.Errorf("video.repostButton = %v", got)
	}
	if got := snap.Selectors["video.nextButton"]; len(got) != 1 || got[0] != `[data-e2e="next"]` {
		t.Errorf("video.nextButton = %v", got)
	}
	if got := snap.Selectors["extra.deep.key"]; len(got) != 1 {
		t.Errorf("extra.deep.key = %v", got)
	}
}

func TestParseRemoteRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "<html>"},
		{"no selectors", `{"version": "1"}`},
		{"selectors not object", `{"selectors": []}`},
		{"empty selectors", `{"selectors": {}}`},
		{"number leaf", `{"selectors": {"a": 1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRemote([]byte(tt.payload)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRefreshInstallsRemoteAndCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(remotePayload))
	}))
	defer srv.Close()

	cache := &memCache{}
	r := NewRegistry(Options{RemoteURL: srv.URL, Cache: cache})
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if r.Version() != "2025.11.02" {
		t.Errorf("Version = %q", r.Version())
	}
	if got, _ := r.Get("video.repostButton"); got[0] != "#missing" {
		t.Errorf("video.repostButton = %v", got)
	}
	// keys absent from the remote table fall back to the bundled ones
	if _, ok := r.Get("nav.profile"); !ok {
		t.Error("nav.profile lost after refresh")
	}
	if len(cache.payload) == 0 {
		t.Error("payload not cached")
	}
}

func TestRefreshFailureKeepsPreviousTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewRegistry(Options{RemoteURL: srv.URL})
	before := r.Snapshot()

	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("expected error from failing endpoint")
	}
	if r.Snapshot() != before {
		t.Fatal("table replaced after failed refresh")
	}
	if _, ok := r.Get("video.item"); !ok {
		t.Fatal("bundled table unusable after failed refresh")
	}
}

func TestRefreshGarbageKeepsPreviousTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"selectors": "nope"}`))
	}))
	defer srv.Close()

	r := NewRegistry(Options{RemoteURL: srv.URL})
	before := r.Version()
	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
	if r.Version() != before {
		t.Fatalf("Version = %q, want %q", r.Version(), before)
	}
}

func TestLoadCached(t *testing.T) {
	cache := &memCache{payload: []byte(remotePayload)}
	r := NewRegistry(Options{Cache: cache})
	if err := r.LoadCached(); err != nil {
		t.Fatalf("LoadCached: %v", err)
	}
	if r.Version() != "2025.11.02" {
		t.Errorf("Version = %q", r.Version())
	}

	failing := &memCache{err: errors.New("no rows")}
	r2 := NewRegistry(Options{Cache: failing})
	if err := r2.LoadCached(); err == nil {
		t.Error("expected cache error to surface")
	}
	if _, ok := r2.Get("video.item"); !ok {
		t.Error("bundled table lost after cache error")
	}
}

func TestApplyUpdateMergesWithoutTouchingOldSnapshot(t *testing.T) {
	r := NewRegistry(Options{})
	old := r.Snapshot()
	oldButtons := append([]string(nil), old.Selectors["video.repostButton"]...)

	r.ApplyUpdate(Table{
		"video.repostButton": {" .new-button ", ""},
		"video.brandNew":     {".brand-new"},
		"video.blank":        {"  "},
	})

	if got, _ := r.Get("video.repostButton"); len(got) != 1 || got[0] != ".new-button" {
		t.Errorf("video.repostButton = %v", got)
	}
	if _, ok := r.Get("video.brandNew"); !ok {
		t.Error("new key not merged")
	}
	if _, ok := r.Get("video.blank"); ok {
		t.Error("blank-only update should be ignored")
	}
	if _, ok := r.Get("nav.profile"); !ok {
		t.Error("untouched key lost")
	}
	if got := old.Selectors["video.repostButton"]; len(got) != len(oldButtons) || got[0] != oldButtons[0] {
		t.Error("previous snapshot mutated by ApplyUpdate")
	}
}

func TestApplyUpdateConcurrentWithReaders(t *testing.T) {
	r := NewRegistry(Options{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.ApplyUpdate(Table{"video.nextButton": {".next"}})
		}()
		go func() {
			defer wg.Done()
			if list, ok := r.Get("video.nextButton"); !ok || len(list) == 0 {
				t.Error("reader saw empty key during update")
			}
		}()
	}
	wg.Wait()
}

func TestCheckVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/version":
			w.Write([]byte(`{"version": "2025.11.02", "updated_at": "2025-11-02T10:00:00Z"}`))
		default:
			w.Write([]byte(remotePayload))
		}
	}))
	defer srv.Close()

	r := NewRegistry(Options{RemoteURL: srv.URL + "/selectors", VersionURL: srv.URL + "/version"})
	changed, err := r.CheckVersion(context.Background())
	if err != nil || !changed {
		t.Fatalf("CheckVersion = %v, %v; want true", changed, err)
	}

	if err := r.RefreshIfChanged(context.Background()); err != nil {
		t.Fatalf("RefreshIfChanged: %v", err)
	}
	changed, err = r.CheckVersion(context.Background())
	if err != nil || changed {
		t.Fatalf("after refresh CheckVersion = %v, %v; want false", changed, err)
	}
}
