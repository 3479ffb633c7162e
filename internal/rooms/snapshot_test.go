package rooms

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/stretchr/testify/require"
)

// fakeSnapshotStore is an in-memory SnapshotStore for exercising Store's
// write-through and rehydration wiring without a database.
type fakeSnapshotStore struct {
	byKey map[[3]string]ChannelSnapshot
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{byKey: make(map[[3]string]ChannelSnapshot)}
}

func (f *fakeSnapshotStore) PutChannel(snap ChannelSnapshot) error {
	f.byKey[[3]string{snap.TenantID, snap.Room, snap.Channel}] = snap
	return nil
}

func (f *fakeSnapshotStore) DeleteChannel(tenantID, room, channel string) error {
	delete(f.byKey, [3]string{tenantID, room, channel})
	return nil
}

func (f *fakeSnapshotStore) LoadAll() ([]ChannelSnapshot, error) {
	out := make([]ChannelSnapshot, 0, len(f.byKey))
	for _, snap := range f.byKey {
		out = append(out, snap)
	}
	return out, nil
}

func TestStore_CreateChannel_WritesThroughToSnapshot(t *testing.T) {
	snap := newFakeSnapshotStore()
	s, err := NewWithSnapshot(slog.New(slog.NewTextHandler(io.Discard, nil)), snap)
	require.NoError(t, err)

	creator := protocol.Principal{TenantID: "t1", ClientID: "admin-1", Roles: []protocol.Role{protocol.RoleAdmin}}
	_, err = s.CreateChannel("t1", "ops", "general", creator, "general discussion", false, time.Now().UTC())
	require.NoError(t, err)

	require.Len(t, snap.byKey, 1)
	got := snap.byKey[[3]string{"t1", "ops", "general"}]
	require.Equal(t, "general discussion", got.Description)
	require.Equal(t, "admin-1", got.Creator)
}

func TestStore_DeleteChannel_RemovesFromSnapshot(t *testing.T) {
	snap := newFakeSnapshotStore()
	s, err := NewWithSnapshot(slog.New(slog.NewTextHandler(io.Discard, nil)), snap)
	require.NoError(t, err)

	admin := protocol.Principal{TenantID: "t1", ClientID: "admin-1", Roles: []protocol.Role{protocol.RoleAdmin}}
	_, err = s.CreateChannel("t1", "ops", "general", admin, "", false, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, snap.byKey, 1)

	require.NoError(t, s.DeleteChannel("t1", "ops", "general", admin))
	require.Empty(t, snap.byKey)
}

func TestNewWithSnapshot_RehydratesExistingChannels(t *testing.T) {
	snap := newFakeSnapshotStore()
	now := time.Now().UTC()
	require.NoError(t, snap.PutChannel(ChannelSnapshot{
		TenantID:    "t1",
		Room:        "ops",
		Channel:     "general",
		Creator:     "admin-1",
		Description: "restored after restart",
		CreatedAt:   now,
	}))

	s, err := NewWithSnapshot(slog.New(slog.NewTextHandler(io.Discard, nil)), snap)
	require.NoError(t, err)

	info, err := s.ChannelInfo("t1", "ops", "general")
	require.NoError(t, err)
	require.Equal(t, "restored after restart", info.Description)
	require.Equal(t, 0, info.MemberCount)
}
