package runstate

import (
	"context"
	"errors"
	"time"
)

// ErrStopped is returned by Sleeper when the run stops during a wait.
var ErrStopped = errors.New("run stopped")

// Sleeper is the single suspension primitive of the workflow. A wait makes
// progress only while the run is Running: pausing freezes the remaining
// duration, stopping aborts it.
type Sleeper struct {
	state     *State
	pausePoll time.Duration
}

// NewSleeper returns a Sleeper that re-checks a paused run every pausePoll.
func NewSleeper(state *State, pausePoll time.Duration) *Sleeper {
	if pausePoll <= 0 {
		pausePoll = 500 * time.Millisecond
	}
	return &Sleeper{state: state, pausePoll: pausePoll}
}

// Sleep waits d of Running time. It returns ErrStopped if the run stops (or
// is not active) and ctx.Err() if ctx ends.
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	remaining := d
	for {
		if err := s.WaitIfPaused(ctx); err != nil {
			return err
		}
		if remaining <= 0 {
			return nil
		}

		phase, changed := s.state.watch()
		if phase != Running {
			continue
		}

		start := time.Now()
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
			// a pause that landed as the timer fired still holds the caller
			return s.WaitIfPaused(ctx)
		case <-changed:
			timer.Stop()
			remaining -= time.Since(start)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// WaitIfPaused blocks while the run is Paused, polling every pausePoll.
func (s *Sleeper) WaitIfPaused(ctx context.Context) error {
	for {
		phase, changed := s.state.watch()
		switch phase {
		case Running:
			return nil
		case Paused:
		default:
			return ErrStopped
		}

		timer := time.NewTimer(s.pausePoll)
		select {
		case <-timer.C:
		case <-changed:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
