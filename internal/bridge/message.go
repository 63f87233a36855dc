package bridge

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the protocol unit. On the wire the payload keys sit beside the
// envelope fields: {"action": "...", "timestamp": ..., "correlationId": "...", ...payload}.
type Message struct {
	Action        string
	Payload       map[string]any
	Timestamp     time.Time
	CorrelationID string
	SenderID      string
}

var envelopeKeys = map[string]bool{
	"action":        true,
	"timestamp":     true,
	"correlationId": true,
	"senderId":      true,
}

// Get returns a payload value.
func (m Message) Get(key string) (any, bool) {
	v, ok := m.Payload[key]
	return v, ok
}

// String returns a payload value as a string, or "" when absent or not a string.
func (m Message) String(key string) string {
	s, _ := m.Payload[key].(string)
	return s
}

// Int returns a numeric payload value as an int.
func (m Message) Int(key string) int {
	switch v := m.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Payload)+4)
	for k, v := range m.Payload {
		if envelopeKeys[k] {
			continue
		}
		out[k] = v
	}
	out["action"] = m.Action
	out["timestamp"] = m.Timestamp.UnixMilli()
	if m.CorrelationID != "" {
		out["correlationId"] = m.CorrelationID
	}
	if m.SenderID != "" {
		out["senderId"] = m.SenderID
	}
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	action, ok := raw["action"].(string)
	if !ok || action == "" {
		return fmt.Errorf("message has no action")
	}

	*m = Message{Action: action}
	m.CorrelationID, _ = raw["correlationId"].(string)
	m.SenderID, _ = raw["senderId"].(string)
	if ts, ok := raw["timestamp"].(float64); ok {
		m.Timestamp = time.UnixMilli(int64(ts))
	}

	for k, v := range raw {
		if envelopeKeys[k] {
			continue
		}
		if m.Payload == nil {
			m.Payload = make(map[string]any)
		}
		m.Payload[k] = v
	}
	return nil
}
