package rooms

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/novelbytelabs/arqonbus/internal/registry"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestSession(t *testing.T, reg *registry.Registry, tenantID, clientID, sessionID string) *registry.Session {
	t.Helper()
	sess, _, err := reg.Register(protocol.Principal{TenantID: tenantID, ClientID: clientID, Roles: []protocol.Role{protocol.RoleUser}}, sessionID, time.Now().UTC())
	require.NoError(t, err)
	return sess
}

func TestRoomMembershipIsUnionOfChannels(t *testing.T) {
	s := newTestStore()
	reg := registry.New(slog.New(slog.NewTextHandler(io.Discard, nil)), registry.DefaultConfig(), nil)
	now := time.Now().UTC()

	alice := newTestSession(t, reg, "t1", "arq_client_alice", "s1")
	bob := newTestSession(t, reg, "t1", "arq_client_bob", "s2")

	require.NoError(t, s.JoinChannel("t1", "ops", "general", alice, now))
	require.NoError(t, s.JoinChannel("t1", "ops", "incidents", bob, now))

	members, err := s.RoomMembers("t1", "ops")
	require.NoError(t, err)
	require.Len(t, members, 2, "room membership must be the union of its channels' members")

	empty, err := s.RoomMembers("t1", "nonexistent")
	require.ErrorIs(t, err, ErrRoomNotFound)
	require.Nil(t, empty)
}

func TestJoinChannel_IsIdempotent(t *testing.T) {
	s := newTestStore()
	reg := registry.New(slog.New(slog.NewTextHandler(io.Discard, nil)), registry.DefaultConfig(), nil)
	now := time.Now().UTC()
	alice := newTestSession(t, reg, "t1", "arq_client_alice", "s1")

	require.NoError(t, s.JoinChannel("t1", "ops", "general", alice, now))
	require.NoError(t, s.JoinChannel("t1", "ops", "general", alice, now))

	members, err := s.Members("t1", "ops", "general")
	require.NoError(t, err)
	require.Len(t, members, 1)
}

func TestDeleteChannel_RequiresAdmin(t *testing.T) {
	s := newTestStore()
	now := time.Now().UTC()
	creator := protocol.Principal{TenantID: "t1", ClientID: "arq_client_alice", Roles: []protocol.Role{protocol.RoleUser}}
	_, err := s.CreateChannel("t1", "ops", "general", creator, "", false, now)
	require.NoError(t, err)

	err = s.DeleteChannel("t1", "ops", "general", creator)
	require.ErrorIs(t, err, ErrAdminRequired)

	admin := protocol.Principal{TenantID: "t1", ClientID: "arq_client_admin", Roles: []protocol.Role{protocol.RoleAdmin}}
	require.NoError(t, s.DeleteChannel("t1", "ops", "general", admin))
}

func TestDeleteChannel_DestroysRoomWhenLastChannelRemoved(t *testing.T) {
	s := newTestStore()
	now := time.Now().UTC()
	admin := protocol.Principal{TenantID: "t1", ClientID: "arq_client_admin", Roles: []protocol.Role{protocol.RoleAdmin}}

	_, err := s.CreateChannel("t1", "ops", "general", admin, "", false, now)
	require.NoError(t, err)
	require.NoError(t, s.DeleteChannel("t1", "ops", "general", admin))

	_, ok := s.getRoom("t1", "ops")
	require.False(t, ok, "room should be destroyed once its last channel is removed")
}

func TestCrossTenantAccessFailsClosed(t *testing.T) {
	s := newTestStore()
	now := time.Now().UTC()
	tenant2Admin := protocol.Principal{TenantID: "t2", ClientID: "arq_client_admin", Roles: []protocol.Role{protocol.RoleAdmin}}

	_, err := s.CreateChannel("t1", "ops", "general", tenant2Admin, "", false, now)
	require.ErrorIs(t, err, ErrTenantIsolationBreach)
}

func TestPurgeSession_RemovesAllMemberships(t *testing.T) {
	s := newTestStore()
	reg := registry.New(slog.New(slog.NewTextHandler(io.Discard, nil)), registry.DefaultConfig(), nil)
	now := time.Now().UTC()
	alice := newTestSession(t, reg, "t1", "arq_client_alice", "s1")

	require.NoError(t, s.JoinChannel("t1", "ops", "general", alice, now))
	require.NoError(t, s.JoinChannel("t1", "ops", "incidents", alice, now))

	s.PurgeSession(alice)

	members, err := s.Members("t1", "ops", "general")
	require.NoError(t, err)
	require.Empty(t, members)
	require.Empty(t, alice.Memberships())
}
