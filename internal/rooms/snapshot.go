package rooms

import "time"

// ChannelSnapshot is the durable subset of channel metadata: creator,
// description, and the admin-only flag. Membership is intentionally
// excluded: it is always in-memory/live and is rebuilt by clients
// rejoining after a restart, not replayed from storage.
type ChannelSnapshot struct {
	TenantID    string
	Room        string
	Channel     string
	Creator     string
	Description string
	AdminOnly   bool
	CreatedAt   time.Time
}

// SnapshotStore persists channel metadata so a restart can rehydrate
// channel descriptions and creators without replaying join history. It is
// optional: Store works in pure in-memory mode when constructed with
// New(log) and no snapshot store is wired in.
type SnapshotStore interface {
	// PutChannel persists or updates a channel's durable metadata.
	PutChannel(snap ChannelSnapshot) error
	// DeleteChannel removes a channel's durable metadata.
	DeleteChannel(tenantID, room, channel string) error
	// LoadAll returns every persisted channel snapshot, used to rehydrate
	// a Store at startup.
	LoadAll() ([]ChannelSnapshot, error)
}
