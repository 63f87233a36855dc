package tray

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/ibeckermayer/unrepost/internal/bridge"
	"github.com/ibeckermayer/unrepost/internal/runstate"
)

func TestStatusLine(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		payload map[string]any
		want    string
		wantOK  bool
	}{
		{"status", bridge.EvtStatusUpdate, map[string]any{"status": "Loading reposts"}, "Loading reposts", true},
		{"empty status", bridge.EvtStatusUpdate, nil, "", false},
		{"progress", bridge.EvtUpdateProgress, map[string]any{"current": 3, "total": 9}, "Checking 3 of 9", true},
		{"removed", bridge.EvtVideoRemoved, map[string]any{"index": 2, "title": "cats"}, "Removed #2: cats", true},
		{"complete", bridge.EvtComplete, map[string]any{"removedCount": 2, "totalCount": 5, "duration": 61200}, "Removed 2 of 5 in 1m1s", true},
		{"cancelled", bridge.EvtComplete, map[string]any{"cancelled": true, "duration": 4000}, "Stopped after 4s", true},
		{"no reposts", bridge.EvtNoRepostsFound, nil, "No reposts found", true},
		{"error", bridge.EvtError, map[string]any{"message": "tab missing"}, "Error: tab missing", true},
		{"login", bridge.EvtLoginStatusUpdate, map[string]any{"isLoggedIn": true, "username": "tester"}, "Logged in as @tester", true},
		{"logged out", bridge.EvtLoginStatusUpdate, map[string]any{"isLoggedIn": false}, "Not logged in", true},
		{"skipped is silent", bridge.EvtVideoSkipped, nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := StatusLine(bridge.Message{Action: tt.action, Payload: tt.payload})
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("StatusLine = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestControls(t *testing.T) {
	tests := []struct {
		phase runstate.Phase
		want  MenuControls
	}{
		{runstate.Idle, MenuControls{Start: true}},
		{runstate.Running, MenuControls{Pause: true, Stop: true}},
		{runstate.Paused, MenuControls{Resume: true, Stop: true}},
		{runstate.Stopped, MenuControls{Start: true}},
	}
	for _, tt := range tests {
		if got := Controls(tt.phase); got != tt.want {
			t.Errorf("Controls(%s) = %+v, want %+v", tt.phase, got, tt.want)
		}
	}
}

func TestIconIsValidPNG(t *testing.T) {
	img, err := png.Decode(bytes.NewReader(iconBytes))
	if err != nil {
		t.Fatalf("decode icon: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 22 || b.Dy() != 22 {
		t.Fatalf("icon bounds = %v", b)
	}
}
