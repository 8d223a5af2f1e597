package audit

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is one security-relevant occurrence. EventID is a ULID, so events
// sort chronologically by ID even when collected from several instances.
type Event struct {
	EventID   string            `json:"eventId"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"eventType"`
	UserID    string            `json:"userId,omitempty"`
	Username  string            `json:"username,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	RiskLevel string            `json:"riskLevel,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Stamp fills EventID and Timestamp if the caller left them zero.
func (e *Event) Stamp(now time.Time) {
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.EventID == "" {
		e.EventID = ulid.MustNew(ulid.Timestamp(e.Timestamp), rand.Reader).String()
	}
}

// Sink receives dispatched events. Implementations must tolerate concurrent
// calls.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink discards every event.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink hands events to a consumer goroutine over a buffered channel.
// Useful for tests and for feeding an external shipper.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink appends one JSON object per line, suitable for piping into
// the portal's log collector.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
