package telemetry

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChannelSink_EmitStampsEventIDAndTimestamp(t *testing.T) {
	s := NewChannelSink(slog.New(slog.NewTextHandler(io.Discard, nil)), 4)
	s.Emit(Event{Kind: "casil.outcome"})

	select {
	case e := <-s.events:
		require.NotEmpty(t, e.EventID)
		require.False(t, e.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for buffered event")
	}
}

func TestChannelSink_EmitDropsWhenBufferFull(t *testing.T) {
	s := NewChannelSink(slog.New(slog.NewTextHandler(io.Discard, nil)), 1)
	s.Emit(Event{Kind: "first"})
	s.Emit(Event{Kind: "second"}) // buffer full, dropped without blocking

	e := <-s.events
	require.Equal(t, "first", e.Kind)
	select {
	case <-s.events:
		t.Fatal("expected second event to have been dropped")
	default:
	}
}

func TestNopSink_NeverBlocks(t *testing.T) {
	var s NopSink
	s.Emit(Event{Kind: "anything"})
}
