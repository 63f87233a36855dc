package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler serves one inbound command.
type Handler func(ctx context.Context, msg Message) (map[string]any, error)

// Response is returned to the surface that sent a command.
type Response struct {
	OK        bool           `json:"ok"`
	Action    string         `json:"action"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duplicate bool           `json:"duplicate,omitempty"`
}

// Router dispatches inbound commands, dropping duplicates the same way the
// bus does for events.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	dedup    *Deduper
	log      *logrus.Entry
}

// NewRouter creates an empty router.
func NewRouter(dedupWindow time.Duration) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		dedup:    NewDeduper(dedupWindow),
		log:      logrus.WithField("component", "router"),
	}
}

// Handle registers h for action, replacing any previous handler.
func (r *Router) Handle(action string, h Handler) {
	r.mu.Lock()
	r.handlers[action] = h
	r.mu.Unlock()
}

// Dispatch runs the handler for msg.Action.
func (r *Router) Dispatch(ctx context.Context, msg Message) Response {
	if !r.dedup.Allow(msg) {
		r.log.WithField("action", msg.Action).Debug("Dropped duplicate command")
		return Response{OK: true, Action: msg.Action, Duplicate: true}
	}

	r.mu.RLock()
	h, ok := r.handlers[msg.Action]
	r.mu.RUnlock()
	if !ok {
		return Response{Action: msg.Action, Error: fmt.Sprintf("unknown action %q", msg.Action)}
	}

	data, err := h(ctx, msg)
	if err != nil {
		r.log.WithError(err).WithField("action", msg.Action).Warn("Command failed")
		return Response{Action: msg.Action, Error: err.Error()}
	}
	return Response{OK: true, Action: msg.Action, Data: data}
}
