package router

import (
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/novelbytelabs/arqonbus/internal/registry"
	"github.com/novelbytelabs/arqonbus/internal/rooms"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) (*registry.Registry, *rooms.Store) {
	t.Helper()
	return registry.New(testLogger(), registry.DefaultConfig(), nil), rooms.New(testLogger())
}

func register(t *testing.T, reg *registry.Registry, tenantID, clientID string) *registry.Session {
	t.Helper()
	sess, _, err := reg.Register(protocol.Principal{TenantID: tenantID, ClientID: clientID, Roles: []protocol.Role{protocol.RoleUser}}, clientID+"-sess", time.Now().UTC())
	require.NoError(t, err)
	return sess
}

func TestResolve_DirectTarget(t *testing.T) {
	reg, store := setup(t)
	alice := register(t, reg, "t1", "arq_client_alice")

	env := protocol.Envelope{TenantID: "t1", FromClient: "arq_client_bob", ToClient: "arq_client_alice"}
	recipients, err := Resolve(env, reg, store)
	require.NoError(t, err)
	require.Equal(t, []*registry.Session{alice}, recipients)
}

func TestResolve_DirectTarget_Offline(t *testing.T) {
	reg, store := setup(t)
	env := protocol.Envelope{TenantID: "t1", FromClient: "arq_client_bob", ToClient: "arq_client_ghost"}
	_, err := Resolve(env, reg, store)
	require.ErrorIs(t, err, ErrNoRecipients)
}

func TestResolve_ChannelTarget_ExcludesSenderByDefault(t *testing.T) {
	reg, store := setup(t)
	now := time.Now().UTC()
	alice := register(t, reg, "t1", "arq_client_alice")
	bob := register(t, reg, "t1", "arq_client_bob")
	require.NoError(t, store.JoinChannel("t1", "ops", "general", alice, now))
	require.NoError(t, store.JoinChannel("t1", "ops", "general", bob, now))

	env := protocol.Envelope{TenantID: "t1", FromClient: "arq_client_alice", Room: "ops", Channel: "general"}
	recipients, err := Resolve(env, reg, store)
	require.NoError(t, err)
	require.Equal(t, []*registry.Session{bob}, recipients)
}

func TestResolve_ChannelTarget_EchoIncludesSenderWhenRequested(t *testing.T) {
	reg, store := setup(t)
	now := time.Now().UTC()
	alice := register(t, reg, "t1", "arq_client_alice")
	require.NoError(t, store.JoinChannel("t1", "ops", "general", alice, now))

	env := protocol.Envelope{
		TenantID:   "t1",
		FromClient: "arq_client_alice",
		Room:       "ops",
		Channel:    "general",
		Metadata:   map[string]string{"echo": "true"},
	}
	recipients, err := Resolve(env, reg, store)
	require.NoError(t, err)
	require.Equal(t, []*registry.Session{alice}, recipients)
}

func TestResolve_RoomTarget_IsUnionOfChannels(t *testing.T) {
	reg, store := setup(t)
	now := time.Now().UTC()
	alice := register(t, reg, "t1", "arq_client_alice")
	bob := register(t, reg, "t1", "arq_client_bob")
	require.NoError(t, store.JoinChannel("t1", "ops", "general", alice, now))
	require.NoError(t, store.JoinChannel("t1", "ops", "incidents", bob, now))

	env := protocol.Envelope{TenantID: "t1", FromClient: "arq_client_carol", Room: "ops"}
	recipients, err := Resolve(env, reg, store)
	require.NoError(t, err)
	require.Len(t, recipients, 2)
}

func TestResolve_ChannelTarget_CombinedSyntax(t *testing.T) {
	reg, store := setup(t)
	now := time.Now().UTC()
	alice := register(t, reg, "t1", "arq_client_alice")
	require.NoError(t, store.JoinChannel("t1", "ops", "general", alice, now))

	env := protocol.Envelope{TenantID: "t1", FromClient: "arq_client_bob", Channel: "ops:general"}
	recipients, err := Resolve(env, reg, store)
	require.NoError(t, err)
	require.Equal(t, []*registry.Session{alice}, recipients)
}

func TestRouter_RouteDeliversToQueue(t *testing.T) {
	reg, store := setup(t)
	now := time.Now().UTC()
	alice := register(t, reg, "t1", "arq_client_alice")
	require.NoError(t, store.JoinChannel("t1", "ops", "general", alice, now))

	r := New(testLogger(), reg, store, nil, DefaultConfig())
	defer r.Stop()

	env := protocol.Envelope{ID: "01ARZ3NDEKTSV4RRFFQ69G5FAV", TenantID: "t1", FromClient: "arq_client_bob", Room: "ops", Channel: "general", Timestamp: now}
	delivered, err := r.Route(env)
	require.NoError(t, err)
	require.Equal(t, 1, delivered)

	require.Eventually(t, func() bool { return alice.QueueDepth() == 1 }, time.Second, time.Millisecond)
}

// TestRouter_PreservesPerRecipientOrder guards against the flat-worker-pool
// regression: many envelopes routed to the same recipient back to back must
// arrive at that recipient's queue in the order Route was called, even
// though the shard pool runs multiple goroutines concurrently.
func TestRouter_PreservesPerRecipientOrder(t *testing.T) {
	reg, store := setup(t)
	now := time.Now().UTC()
	alice := register(t, reg, "t1", "arq_client_alice")
	require.NoError(t, store.JoinChannel("t1", "ops", "general", alice, now))

	r := New(testLogger(), reg, store, nil, DefaultConfig())
	defer r.Stop()

	const n = 100
	for i := 0; i < n; i++ {
		env := protocol.Envelope{
			ID:         "01ARZ3NDEKTSV4RRFFQ69G5FAV",
			TenantID:   "t1",
			FromClient: "arq_client_bob",
			Room:       "ops",
			Channel:    "general",
			Timestamp:  now,
			Metadata:   map[string]string{"seq": itoa(i)},
		}
		_, err := r.Route(env)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return alice.QueueDepth() == n }, time.Second, time.Millisecond)

	for i := 0; i < n; i++ {
		env, ok := alice.Pop(nil)
		require.True(t, ok)
		require.Equal(t, itoa(i), env.Metadata["seq"])
	}
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
