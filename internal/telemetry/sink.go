package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/unrepost/internal/bridge"
	"github.com/ibeckermayer/unrepost/internal/store"
)

// Recorder is the local history the sink writes to.
type Recorder interface {
	CreateSession(sess *store.Session) error
	FinishSession(id string, res store.SessionResult) error
	RecordEvent(ev store.Event) error
}

// Sender is the remote side of the sink.
type Sender interface {
	EnqueueSession(info SessionInfo) bool
	Enqueue(ev Event) bool
}

// Sink turns outbound bus messages into session rows, event rows and
// telemetry records. Either collaborator may be nil.
type Sink struct {
	sender   Sender
	recorder Recorder
	version  func() string
	log      *logrus.Entry

	mu        sync.Mutex
	sessionID string
	processed int
	removed   int
	found     int
}

// NewSink creates a sink. version reports the selector table in use and may
// be nil.
func NewSink(sender Sender, recorder Recorder, version func() string) *Sink {
	if version == nil {
		version = func() string { return "" }
	}
	return &Sink{
		sender:   sender,
		recorder: recorder,
		version:  version,
		log:      logrus.WithField("component", "telemetry"),
	}
}

// SessionID returns the session of the run in progress or last finished.
func (s *Sink) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Run consumes msgs until the channel closes or ctx ends.
func (s *Sink) Run(ctx context.Context, msgs <-chan bridge.Message) error {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			s.Handle(msg)
		case <-ctx.Done():
			return nil
		}
	}
}

// Handle processes one message.
func (s *Sink) Handle(msg bridge.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Action == bridge.EvtProcessStarted {
		s.startSessionLocked(msg)
	}

	s.recordLocked(msg)

	switch msg.Action {
	case bridge.EvtVideoRemoved:
		s.processed++
		s.removed++
	case bridge.EvtVideoSkipped:
		s.processed++
	case bridge.EvtUpdateProgress:
		if n := msg.Int("total"); n > s.found {
			s.found = n
		}
	case bridge.EvtLoginStatusUpdate:
		typ := TypeLoginMissing
		if v, _ := msg.Get("isLoggedIn"); v == true {
			typ = TypeLoginDetected
		}
		s.sendLocked(typ, msg)
	case bridge.EvtComplete:
		typ, outcome := TypeProcessCompleted, "complete"
		if v, _ := msg.Get("cancelled"); v == true {
			typ, outcome = TypeProcessCancelled, "cancelled"
		}
		s.sendLocked(typ, msg)
		s.finishLocked(store.SessionResult{
			Outcome: outcome,
			Found:   msg.Int("totalCount"),
			Removed: msg.Int("removedCount"),
		})
	case bridge.EvtNoRepostsFound:
		s.sendLocked(TypeNoReposts, msg)
		s.finishLocked(store.SessionResult{Outcome: "no_reposts"})
	case bridge.EvtError:
		s.sendLocked(TypeProcessErrored, msg)
		s.finishLocked(store.SessionResult{
			Outcome: "failed",
			Found:   s.found,
			Removed: s.removed,
			Error:   msg.String("error"),
		})
	}
}

func (s *Sink) startSessionLocked(msg bridge.Message) {
	s.sessionID = uuid.NewString()
	s.processed, s.removed, s.found = 0, 0, 0
	started := msg.Timestamp
	if started.IsZero() {
		started = time.Now()
	}
	version := s.version()

	if s.recorder != nil {
		err := s.recorder.CreateSession(&store.Session{ID: s.sessionID, StartedAt: started, SelectorVersion: version})
		if err != nil {
			s.log.WithError(err).Warn("Failed to record session")
		}
	}
	if s.sender != nil {
		s.sender.EnqueueSession(SessionInfo{SessionID: s.sessionID, StartedAt: started, SelectorVersion: version})
	}
	s.sendLocked(TypeProcessStarted, msg)
	s.log.WithField("session", s.sessionID).Debug("Session started")
}

func (s *Sink) finishLocked(res store.SessionResult) {
	if s.recorder == nil || s.sessionID == "" {
		return
	}
	res.Processed = s.processed
	if err := s.recorder.FinishSession(s.sessionID, res); err != nil {
		s.log.WithError(err).Warn("Failed to finish session")
	}
}

func (s *Sink) recordLocked(msg bridge.Message) {
	if s.recorder == nil {
		return
	}
	var payload []byte
	if len(msg.Payload) > 0 {
		var err error
		if payload, err = json.Marshal(msg.Payload); err != nil {
			s.log.WithError(err).WithField("action", msg.Action).Warn("Unencodable event payload")
			payload = nil
		}
	}
	err := s.recorder.RecordEvent(store.Event{
		SessionID:     s.sessionID,
		Action:        msg.Action,
		Payload:       payload,
		CorrelationID: msg.CorrelationID,
		CreatedAt:     msg.Timestamp,
	})
	if err != nil {
		s.log.WithError(err).Warn("Failed to record event")
	}
}

func (s *Sink) sendLocked(typ string, msg bridge.Message) {
	if s.sender == nil {
		return
	}
	s.sender.Enqueue(Event{
		SessionID: s.sessionID,
		Type:      typ,
		Payload:   msg.Payload,
		Timestamp: msg.Timestamp,
	})
}
