package registry

import (
	"testing"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/stretchr/testify/require"
)

func alice() protocol.Principal {
	return protocol.Principal{TenantID: "t1", ClientID: "arq_client_alice", Roles: []protocol.Role{protocol.RoleUser}}
}

func TestRegister_SupersedesByDefault(t *testing.T) {
	r := New(testLogger(), DefaultConfig(), nil)
	now := time.Now().UTC()

	first, superseded, err := r.Register(alice(), "sess-1", now)
	require.NoError(t, err)
	require.Nil(t, superseded)

	second, superseded, err := r.Register(alice(), "sess-2", now)
	require.NoError(t, err)
	require.Same(t, first, superseded)
	require.NotSame(t, first, second)

	got, ok := r.Lookup("t1", "arq_client_alice")
	require.True(t, ok)
	require.Same(t, second, got)
}

func TestRegister_RejectPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DuplicateIdentity = PolicyReject
	r := New(testLogger(), cfg, nil)
	now := time.Now().UTC()

	_, _, err := r.Register(alice(), "sess-1", now)
	require.NoError(t, err)

	_, _, err = r.Register(alice(), "sess-2", now)
	require.ErrorIs(t, err, ErrDuplicateIdentity)
}

func TestUnregister_RemovesSessionAndClosesIt(t *testing.T) {
	r := New(testLogger(), DefaultConfig(), nil)
	now := time.Now().UTC()

	sess, _, err := r.Register(alice(), "sess-1", now)
	require.NoError(t, err)

	r.Unregister(sess)

	_, ok := r.Lookup("t1", "arq_client_alice")
	require.False(t, ok)

	select {
	case <-sess.Done():
	default:
		t.Fatal("expected session to be closed")
	}
}

func TestEnqueue_DropsOldestNonCriticalWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendQueueDepth = 2
	r := New(testLogger(), cfg, nil)
	now := time.Now().UTC()
	sess, _, err := r.Register(alice(), "sess-1", now)
	require.NoError(t, err)

	env := func(id string) protocol.Envelope {
		return protocol.Envelope{ID: id, Type: protocol.TypeMessage, FromClient: "arq_client_bob"}
	}

	require.Equal(t, EnqueueOK, r.Enqueue(sess, env("m1"), now))
	require.Equal(t, EnqueueOK, r.Enqueue(sess, env("m2"), now))
	require.Equal(t, EnqueueDropped, r.Enqueue(sess, env("m3"), now))

	first, ok := sess.Pop(nil)
	require.True(t, ok)
	require.Equal(t, "m2", first.ID, "oldest (m1) should have been evicted")
}

func TestEnqueue_CriticalNeverDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendQueueDepth = 1
	r := New(testLogger(), cfg, nil)
	now := time.Now().UTC()
	sess, _, err := r.Register(alice(), "sess-1", now)
	require.NoError(t, err)

	data := protocol.Envelope{ID: "m1", Type: protocol.TypeMessage}
	require.Equal(t, EnqueueOK, r.Enqueue(sess, data, now))

	resp := protocol.Envelope{ID: "r1", Type: protocol.TypeResponse}
	require.Equal(t, EnqueueSaturated, r.Enqueue(sess, resp, now))
}

func TestEnqueue_SaturationEscalatesAfterGrace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendQueueDepth = 1
	cfg.BackpressureGrace = 10 * time.Second
	r := New(testLogger(), cfg, nil)
	t0 := time.Now().UTC()
	sess, _, err := r.Register(alice(), "sess-1", t0)
	require.NoError(t, err)

	data := func() protocol.Envelope { return protocol.Envelope{ID: "m", Type: protocol.TypeMessage} }

	require.Equal(t, EnqueueOK, r.Enqueue(sess, data(), t0))
	require.Equal(t, EnqueueDropped, r.Enqueue(sess, data(), t0.Add(time.Second)))
	require.Equal(t, EnqueueSaturated, r.Enqueue(sess, data(), t0.Add(20*time.Second)))
}
