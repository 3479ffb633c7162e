// Package telemetry defines the non-blocking event collaborator CASIL
// publishes inspection outcomes to, and the Prometheus metrics set. A
// telemetry sink must never block the hot path, or the core would drop
// events silently; ChannelSink implements exactly that contract.
package telemetry

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event is a structured telemetry record. Kind values are dotted strings
// such as "casil.outcome", "lifecycle.join", "lifecycle.leave". EventID is
// a random correlation id, not a time-sortable one: downstream log
// aggregation only needs uniqueness here, unlike the envelope id's ordering
// requirement.
type Event struct {
	EventID string
	Kind    string
	At      time.Time
	Attrs   map[string]any
}

// Sink receives telemetry events. Implementations MUST NOT block the
// caller; CASIL and the router are on the hot path.
type Sink interface {
	Emit(Event)
}

// NopSink discards everything. Useful as a zero-value default so components
// never need a nil check.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// ChannelSink buffers events into a bounded channel drained by a background
// goroutine that forwards to a structured logger. A full buffer drops the
// event rather than applying backpressure to the caller, matching the
// "Telemetry emission" row of spec.md §5's backpressure table ("Drop
// non-critical events; never block message path").
type ChannelSink struct {
	log    *slog.Logger
	events chan Event
}

// NewChannelSink constructs a ChannelSink with the given buffer depth
// (1024 when bufferSize <= 0). It does not start draining: Run drains the
// buffer until its stop channel is closed.
func NewChannelSink(log *slog.Logger, bufferSize int) *ChannelSink {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	s := &ChannelSink{
		log:    log,
		events: make(chan Event, bufferSize),
	}
	return s
}

// Emit implements Sink. Non-blocking: drops the event if the buffer is
// full. EventID and At are stamped here if the caller left them zero, so
// every emitted event carries a correlation id regardless of collaborator.
func (s *ChannelSink) Emit(e Event) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case s.events <- e:
	default:
		s.log.Warn("telemetry.drop", "kind", e.Kind, "event_id", e.EventID)
	}
}

// Run drains events until stop is closed. Intended to run in its own
// goroutine for the lifetime of the process.
func (s *ChannelSink) Run(stop <-chan struct{}) {
	for {
		select {
		case e := <-s.events:
			s.log.Info("telemetry.event", "event_id", e.EventID, "kind", e.Kind, "attrs", e.Attrs)
		case <-stop:
			return
		}
	}
}

var _ Sink = NopSink{}
var _ Sink = (*ChannelSink)(nil)
