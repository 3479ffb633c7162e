package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
)

const defaultRingCapacity = 10_000

// MemoryRing is the in-memory bounded ring history backend: the default
// from spec.md §4.6, and the fallback target for FailoverStore when a
// durable backend becomes unavailable.
type MemoryRing struct {
	capacity int
	policy   RingPolicy

	mu   sync.Mutex
	logs map[Key]*ringLog
}

type ringLog struct {
	nextSeq uint64
	entries []Entry // ordered by SequenceNumber ascending
}

// NewMemoryRing constructs a MemoryRing with the given per-key capacity
// (defaultRingCapacity if capacity <= 0) and overflow policy.
func NewMemoryRing(capacity int, policy RingPolicy) *MemoryRing {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &MemoryRing{
		capacity: capacity,
		policy:   policy,
		logs:     make(map[Key]*ringLog),
	}
}

func (m *MemoryRing) Append(_ context.Context, key Key, env protocol.Envelope, now time.Time) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.logs[key]
	if l == nil {
		l = &ringLog{entries: make([]Entry, 0, 256)}
		m.logs[key] = l
	}

	if len(l.entries) >= m.capacity {
		switch m.policy {
		case DropNewest:
			return 0, ErrOverflow
		default: // DropOldest
			l.entries = l.entries[1:]
		}
	}

	l.nextSeq++
	seq := l.nextSeq
	l.entries = append(l.entries, Entry{
		Envelope:       env,
		StoredAt:       now,
		SequenceNumber: seq,
	})
	return seq, nil
}

func (m *MemoryRing) Get(_ context.Context, key Key, since, until uint64, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.logs[key]
	if l == nil {
		return nil, nil
	}

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if since != 0 && e.SequenceNumber < since {
			continue
		}
		if until != 0 && e.SequenceNumber > until {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRing) Replay(_ context.Context, key Key, fromTS, toTS time.Time, strictSequence bool, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.logs[key]
	if l == nil {
		return nil, nil
	}

	var window []Entry
	for _, e := range l.entries {
		if !fromTS.IsZero() && e.StoredAt.Before(fromTS) {
			continue
		}
		if !toTS.IsZero() && e.StoredAt.After(toTS) {
			continue
		}
		window = append(window, e)
	}
	sort.Slice(window, func(i, j int) bool { return window[i].SequenceNumber < window[j].SequenceNumber })

	if strictSequence {
		if err := detectSequenceGap(window); err != nil {
			return nil, err
		}
	}

	if limit > 0 && len(window) > limit {
		window = window[:limit]
	}
	return window, nil
}

var _ Store = (*MemoryRing)(nil)
