// Package bridge carries commands from the controlling surfaces (tray, HTTP
// API, CLI) to the automation and progress events back out.
package bridge

// Inbound commands.
const (
	CmdPing              = "ping"
	CmdStartRemoval      = "startRemoval"
	CmdPauseRemoval      = "pauseRemoval"
	CmdResumeRemoval     = "resumeRemoval"
	CmdStopRemoval       = "stopRemoval"
	CmdCheckLoginStatus  = "checkLoginStatus"
	CmdNavigateToReposts = "navigateToReposts"
	CmdSelectorsUpdate   = "selectorsUpdate"
)

// Outbound events.
const (
	EvtStatusUpdate      = "statusUpdate"
	EvtUpdateProgress    = "updateProgress"
	EvtVideoRemoved      = "videoRemoved"
	EvtVideoSkipped      = "videoSkipped"
	EvtLoginStatusUpdate = "loginStatusUpdate"
	EvtNoRepostsFound    = "noRepostsFound"
	EvtComplete          = "complete"
	EvtError             = "error"
	EvtUIWaitTimeout     = "uiWaitTimeout"

	// Lifecycle events consumed by telemetry only.
	EvtProcessStarted = "processStarted"
)

// IsTerminal reports whether action ends a run. Every run produces exactly
// one terminal event.
func IsTerminal(action string) bool {
	switch action {
	case EvtComplete, EvtNoRepostsFound, EvtError:
		return true
	}
	return false
}
