// Package runstate tracks the lifecycle of a removal run and provides the
// pausable sleep every workflow wait is built on.
package runstate

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Phase is the run lifecycle state.
type Phase int

const (
	Idle Phase = iota
	Running
	Paused
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Item describes the video currently in focus. It is only used for
// reporting, never for removal decisions.
type Item struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	URL    string `json:"url"`
}

// Snapshot is a point-in-time copy of the run state.
type Snapshot struct {
	Phase        Phase         `json:"-"`
	PhaseName    string        `json:"phase"`
	StartedAt    time.Time     `json:"started_at"`
	StoppedAt    time.Time     `json:"stopped_at"`
	Elapsed      time.Duration `json:"elapsed"`
	FoundCount   int           `json:"found_count"`
	RemovedCount int           `json:"removed_count"`
	CurrentIndex int           `json:"current_index"`
	CurrentItem  Item          `json:"current_item"`
}

// State is the run state machine:
//
//	Idle -> Running <-> Paused
//	Running|Paused -> Stopped
//	Idle|Stopped -> Running (via Start, counters reset)
//
// Counter invariants (removed <= index <= found) are kept by the workflow.
type State struct {
	mu      sync.RWMutex
	phase   Phase
	started time.Time
	stopped time.Time
	found   int
	removed int
	index   int
	item    Item

	changed chan struct{} // closed and replaced on every phase change
	now     func() time.Time
	log     *logrus.Entry
}

// New returns an Idle state.
func New() *State {
	return &State{
		changed: make(chan struct{}),
		now:     time.Now,
		log:     logrus.WithField("component", "runstate"),
	}
}

// Start enters Running with zeroed counters. It reports false, and changes
// nothing, when a run is already active.
func (s *State) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == Running || s.phase == Paused {
		s.log.WithField("phase", s.phase).Warn("Start ignored: a run is already active")
		return false
	}
	s.found, s.removed, s.index = 0, 0, 0
	s.item = Item{}
	s.started = s.now()
	s.stopped = time.Time{}
	s.setPhaseLocked(Running)
	return true
}

// Pause moves Running to Paused. Any other phase is left untouched.
func (s *State) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Running {
		return false
	}
	s.setPhaseLocked(Paused)
	return true
}

// Resume moves Paused back to Running.
func (s *State) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Paused {
		return false
	}
	s.setPhaseLocked(Running)
	return true
}

// Stop freezes the counters for reporting. Only an active run can stop.
func (s *State) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Running && s.phase != Paused {
		return false
	}
	s.stopped = s.now()
	s.setPhaseLocked(Stopped)
	return true
}

// Reset returns to Idle and clears every counter, discarding the last
// stopped run's figures.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.found, s.removed, s.index = 0, 0, 0
	s.item = Item{}
	s.started = time.Time{}
	s.stopped = time.Time{}
	s.setPhaseLocked(Idle)
}

func (s *State) setPhaseLocked(p Phase) {
	if s.phase == p {
		return
	}
	s.log.WithFields(logrus.Fields{"from": s.phase, "to": p}).Debug("Phase change")
	s.phase = p
	close(s.changed)
	s.changed = make(chan struct{})
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// watch returns the current phase and a channel closed on the next change.
func (s *State) watch() (Phase, <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase, s.changed
}

// SetFound records the number of items discovered for this run.
func (s *State) SetFound(n int) {
	s.mu.Lock()
	s.found = n
	s.mu.Unlock()
}

// SetCurrentItem records the item in focus.
func (s *State) SetCurrentItem(it Item) {
	s.mu.Lock()
	s.item = it
	s.mu.Unlock()
}

// MarkRemoved counts a confirmed removal.
func (s *State) MarkRemoved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed++
	return s.removed
}

// Advance counts a processed item, removed or skipped.
func (s *State) Advance() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index++
	return s.index
}

// Elapsed is the run duration so far, or the final duration once stopped.
func (s *State) Elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elapsedLocked()
}

func (s *State) elapsedLocked() time.Duration {
	if s.started.IsZero() {
		return 0
	}
	if !s.stopped.IsZero() {
		return s.stopped.Sub(s.started)
	}
	return s.now().Sub(s.started)
}

// Snapshot copies the state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Phase:        s.phase,
		PhaseName:    s.phase.String(),
		StartedAt:    s.started,
		StoppedAt:    s.stopped,
		Elapsed:      s.elapsedLocked(),
		FoundCount:   s.found,
		RemovedCount: s.removed,
		CurrentIndex: s.index,
		CurrentItem:  s.item,
	}
}
