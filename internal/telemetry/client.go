// Package telemetry reports run lifecycle events to a remote logging
// endpoint and records every outbound event locally. Reporting is
// fire-and-forget: nothing here can block or fail a run.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ibeckermayer/unrepost/internal/config"
)

// Event types sent to the endpoint.
const (
	TypeSessionStart     = "session_start"
	TypeLoginDetected    = "login_detected"
	TypeLoginMissing     = "login_missing"
	TypeProcessStarted   = "process_started"
	TypeProcessCompleted = "process_completed"
	TypeProcessCancelled = "process_cancelled"
	TypeNoReposts        = "no_reposts"
	TypeProcessErrored   = "process_errored"
)

// Event is one telemetry record.
type Event struct {
	SessionID string         `json:"session_id"`
	Type      string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SessionInfo opens a session on the endpoint.
type SessionInfo struct {
	SessionID       string    `json:"session_id"`
	StartedAt       time.Time `json:"started_at"`
	SelectorVersion string    `json:"selector_version,omitempty"`
}

// job is one queued record; exactly one field is set.
type job struct {
	session *SessionInfo
	event   *Event
}

// Client posts telemetry with bounded retry. Queued sends are processed by
// Run on a single goroutine.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	queue      chan job
	log        *logrus.Entry
}

// NewClient creates a client for cfg.Endpoint.
func NewClient(cfg config.TelemetryConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: httpClient,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff.Duration,
		queue:      make(chan job, size),
		log:        logrus.WithField("component", "telemetry"),
	}
}

// StartSession posts a session record, retrying on failure.
func (c *Client) StartSession(ctx context.Context, info SessionInfo) error {
	return c.postWithRetry(ctx, "/sessions", info)
}

// Send posts an event, retrying on failure.
func (c *Client) Send(ctx context.Context, ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return c.postWithRetry(ctx, "/events", ev)
}

// EnqueueSession queues a session record without blocking.
func (c *Client) EnqueueSession(info SessionInfo) bool {
	return c.enqueue(job{session: &info})
}

// Enqueue queues an event without blocking. A full queue drops the event.
func (c *Client) Enqueue(ev Event) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return c.enqueue(job{event: &ev})
}

func (c *Client) enqueue(j job) bool {
	select {
	case c.queue <- j:
		return true
	default:
		c.log.WithField("record", j.kind()).Warn("Telemetry queue full, dropping")
		return false
	}
}

// Run sends queued records until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case j := <-c.queue:
			if err := c.deliver(ctx, j); err != nil && ctx.Err() == nil {
				c.log.WithError(err).WithField("record", j.kind()).Warn("Telemetry dropped after retries")
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) deliver(ctx context.Context, j job) error {
	if j.session != nil {
		return c.StartSession(ctx, *j.session)
	}
	return c.Send(ctx, *j.event)
}

func (j job) kind() string {
	if j.session != nil {
		return TypeSessionStart
	}
	return j.event.Type
}

// retryable marks failures worth another attempt.
type retryable struct{ err error }

func (r retryable) Error() string { return r.err.Error() }
func (r retryable) Unwrap() error { return r.err }

func (c *Client) postWithRetry(ctx context.Context, path string, body any) error {
	var err error
	delay := c.backoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
			delay *= 2
		}

		err = c.doJSONRequest(ctx, path, body)
		var r retryable
		if err == nil || !errors.As(err, &r) {
			return err
		}
		c.log.WithError(err).WithField("attempt", attempt+1).Debug("Telemetry post failed")
	}
	return err
}

// doJSONRequest posts payload as JSON. Network errors and 5xx/429 answers
// come back wrapped in retryable.
func (c *Client) doJSONRequest(ctx context.Context, path string, payload any) error {
	if c.baseURL == "" {
		return errors.New("telemetry endpoint not configured")
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retryable{fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return retryable{err}
	}
	return err
}
