package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/health"
	"github.com/novelbytelabs/arqonbus/internal/protocol"
)

// FailoverStore wraps a durable Store with a MemoryRing fallback: on
// durable-backend error, new appends switch to the in-memory ring and the
// component health signal flips to degraded. Reads during degradation
// serve in-memory entries only; reads never block trying to reach an
// unhealthy backend.
type FailoverStore struct {
	log     *slog.Logger
	durable Store
	fallback *MemoryRing
	signal  *health.Signal
}

// NewFailoverStore constructs a FailoverStore. signal is shared with the
// rest of the process's health reporting (spec.md §6's health-endpoint
// collaborator).
func NewFailoverStore(log *slog.Logger, durable Store, fallback *MemoryRing, signal *health.Signal) *FailoverStore {
	if fallback == nil {
		fallback = NewMemoryRing(0, DropOldest)
	}
	if signal == nil {
		signal = health.NewSignal()
	}
	return &FailoverStore{log: log, durable: durable, fallback: fallback, signal: signal}
}

func (f *FailoverStore) Append(ctx context.Context, key Key, env protocol.Envelope, now time.Time) (uint64, error) {
	if f.signal.Get() == health.StatusDegraded {
		return f.fallback.Append(ctx, key, env, now)
	}

	seq, err := f.durable.Append(ctx, key, env, now)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			f.log.Warn("history.durable_unavailable", "error", err)
			f.signal.Set(health.StatusDegraded)
			return f.fallback.Append(ctx, key, env, now)
		}
		return 0, err
	}
	return seq, nil
}

func (f *FailoverStore) Get(ctx context.Context, key Key, since, until uint64, limit int) ([]Entry, error) {
	if f.signal.Get() == health.StatusDegraded {
		return f.fallback.Get(ctx, key, since, until, limit)
	}
	entries, err := f.durable.Get(ctx, key, since, until, limit)
	if err != nil && errors.Is(err, ErrUnavailable) {
		f.signal.Set(health.StatusDegraded)
		return f.fallback.Get(ctx, key, since, until, limit)
	}
	return entries, err
}

func (f *FailoverStore) Replay(ctx context.Context, key Key, fromTS, toTS time.Time, strictSequence bool, limit int) ([]Entry, error) {
	if f.signal.Get() == health.StatusDegraded {
		return f.fallback.Replay(ctx, key, fromTS, toTS, strictSequence, limit)
	}
	entries, err := f.durable.Replay(ctx, key, fromTS, toTS, strictSequence, limit)
	if err != nil && errors.Is(err, ErrUnavailable) {
		f.signal.Set(health.StatusDegraded)
		return f.fallback.Replay(ctx, key, fromTS, toTS, strictSequence, limit)
	}
	return entries, err
}

// Recover probes the durable backend with a lightweight Get and, on
// success, flips the health signal back to healthy. Intended to be called
// periodically by a background reconciliation loop, not from the hot path.
func (f *FailoverStore) Recover(ctx context.Context, probeKey Key) error {
	if f.signal.Get() != health.StatusDegraded {
		return nil
	}
	if _, err := f.durable.Get(ctx, probeKey, 0, 0, 1); err != nil {
		return err
	}
	f.signal.Set(health.StatusHealthy)
	f.log.Info("history.durable_recovered")
	return nil
}

var _ Store = (*FailoverStore)(nil)
