package history

import (
	"context"
	"testing"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/stretchr/testify/require"
)

func testKey() Key { return Key{TenantID: "t1", Room: "ops", Channel: "events"} }

func TestMemoryRing_AppendAssignsMonotonicSequence(t *testing.T) {
	r := NewMemoryRing(0, DropOldest)
	ctx := context.Background()
	now := time.Now().UTC()

	seq1, err := r.Append(ctx, testKey(), protocol.Envelope{ID: "e1"}, now)
	require.NoError(t, err)
	seq2, err := r.Append(ctx, testKey(), protocol.Envelope{ID: "e2"}, now)
	require.NoError(t, err)
	require.Greater(t, seq2, seq1)
}

func TestMemoryRing_DropOldestEvictsOnOverflow(t *testing.T) {
	r := NewMemoryRing(2, DropOldest)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, err := r.Append(ctx, testKey(), protocol.Envelope{ID: string(rune('a' + i))}, now)
		require.NoError(t, err)
	}

	entries, err := r.Get(ctx, testKey(), 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "b", entries[0].Envelope.ID)
	require.Equal(t, "c", entries[1].Envelope.ID)
}

func TestMemoryRing_DropNewestRejectsOnOverflow(t *testing.T) {
	r := NewMemoryRing(1, DropNewest)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := r.Append(ctx, testKey(), protocol.Envelope{ID: "a"}, now)
	require.NoError(t, err)
	_, err = r.Append(ctx, testKey(), protocol.Envelope{ID: "b"}, now)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestDetectSequenceGap(t *testing.T) {
	consecutive := []Entry{{SequenceNumber: 1}, {SequenceNumber: 2}, {SequenceNumber: 3}}
	require.NoError(t, detectSequenceGap(consecutive))

	withGap := []Entry{{SequenceNumber: 1}, {SequenceNumber: 3}}
	require.ErrorIs(t, detectSequenceGap(withGap), ErrSequenceGap)
}

func TestMemoryRing_EvictionNeverLeavesAGapInTheRemainingWindow(t *testing.T) {
	// A drop-oldest ring only ever trims its front, so whatever window of
	// entries survives eviction remains a contiguous suffix of sequence
	// numbers. Strict replay over the full retained window must never
	// itself report a gap.
	r := NewMemoryRing(2, DropOldest)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		_, err := r.Append(ctx, testKey(), protocol.Envelope{ID: "x"}, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	entries, err := r.Replay(ctx, testKey(), base.Add(-time.Hour), base.Add(time.Hour), true, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(4), entries[0].SequenceNumber)
	require.Equal(t, uint64(5), entries[1].SequenceNumber)
}

func TestMemoryRing_ReplayNoGapWhenFullyRetained(t *testing.T) {
	r := NewMemoryRing(1000, DropOldest)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 1000; i++ {
		_, err := r.Append(ctx, testKey(), protocol.Envelope{ID: "x"}, base.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
	}

	entries, err := r.Replay(ctx, testKey(), base.Add(-time.Hour), base.Add(time.Hour), true, 1000)
	require.NoError(t, err)
	require.Len(t, entries, 1000)
}

func TestMemoryRing_GetRespectsSinceUntilAndLimit(t *testing.T) {
	r := NewMemoryRing(0, DropOldest)
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		_, err := r.Append(ctx, testKey(), protocol.Envelope{ID: "x"}, now)
		require.NoError(t, err)
	}

	entries, err := r.Get(ctx, testKey(), 3, 7, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	limited, err := r.Get(ctx, testKey(), 0, 0, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}
