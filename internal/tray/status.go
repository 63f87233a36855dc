package tray

import (
	"fmt"
	"time"

	"github.com/ibeckermayer/unrepost/internal/bridge"
	"github.com/ibeckermayer/unrepost/internal/runstate"
)

// MenuControls says which run controls are usable in a phase.
type MenuControls struct {
	Start, Pause, Resume, Stop bool
}

// Controls maps a run phase to the enabled menu items.
func Controls(phase runstate.Phase) MenuControls {
	switch phase {
	case runstate.Running:
		return MenuControls{Pause: true, Stop: true}
	case runstate.Paused:
		return MenuControls{Resume: true, Stop: true}
	default:
		return MenuControls{Start: true}
	}
}

// StatusLine renders an outbound event as the one-line menu status. Events
// with nothing to show return false.
func StatusLine(msg bridge.Message) (string, bool) {
	switch msg.Action {
	case bridge.EvtStatusUpdate:
		s := msg.String("status")
		return s, s != ""
	case bridge.EvtUpdateProgress:
		return fmt.Sprintf("Checking %d of %d", msg.Int("current"), msg.Int("total")), true
	case bridge.EvtVideoRemoved:
		return fmt.Sprintf("Removed #%d: %s", msg.Int("index"), msg.String("title")), true
	case bridge.EvtNoRepostsFound:
		return "No reposts found", true
	case bridge.EvtComplete:
		d := (time.Duration(msg.Int("duration")) * time.Millisecond).Round(time.Second)
		if cancelled, _ := msg.Get("cancelled"); cancelled == true {
			return fmt.Sprintf("Stopped after %s", d), true
		}
		return fmt.Sprintf("Removed %d of %d in %s", msg.Int("removedCount"), msg.Int("totalCount"), d), true
	case bridge.EvtError:
		return "Error: " + msg.String("message"), true
	case bridge.EvtLoginStatusUpdate:
		if ok, _ := msg.Get("isLoggedIn"); ok == true {
			if u := msg.String("username"); u != "" {
				return "Logged in as @" + u, true
			}
			return "Logged in", true
		}
		return "Not logged in", true
	}
	return "", false
}
