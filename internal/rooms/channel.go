package rooms

import (
	"time"

	"github.com/novelbytelabs/arqonbus/internal/registry"
)

// Channel is a tenant-scoped sub-grouping within a room: the primary
// routing target for broadcast messages (spec.md §3).
type Channel struct {
	TenantID    string
	Room        string
	Name        string
	Creator     string
	CreatedAt   time.Time
	Description string

	// AdminOnly restricts join_channel to admin principals when true.
	AdminOnly bool

	// members is in join order until a removal, which moves the last member
	// into the freed slot; membership correctness (exactly-once broadcast
	// traversal) only needs the set, and memberIndex gives O(1) membership
	// tests and removal.
	members     []*registry.Session
	memberIndex map[string]int // session id -> index into members
}

func newChannel(tenantID, room, name, creator, description string, adminOnly bool, now time.Time) *Channel {
	return &Channel{
		TenantID:    tenantID,
		Room:        room,
		Name:        name,
		Creator:     creator,
		CreatedAt:   now,
		Description: description,
		AdminOnly:   adminOnly,
		memberIndex: make(map[string]int),
	}
}

// addMember is idempotent: joining twice yields one membership entry.
func (c *Channel) addMember(sess *registry.Session) {
	if _, ok := c.memberIndex[sess.SessionID]; ok {
		return
	}
	c.memberIndex[sess.SessionID] = len(c.members)
	c.members = append(c.members, sess)
}

// removeMember is idempotent.
func (c *Channel) removeMember(sessionID string) {
	idx, ok := c.memberIndex[sessionID]
	if !ok {
		return
	}
	last := len(c.members) - 1
	c.members[idx] = c.members[last]
	c.memberIndex[c.members[idx].SessionID] = idx
	c.members = c.members[:last]
	delete(c.memberIndex, sessionID)
}

func (c *Channel) isMember(sessionID string) bool {
	_, ok := c.memberIndex[sessionID]
	return ok
}

// Members returns a snapshot of the channel's member sessions. Traversal
// over the returned slice visits each member exactly once, satisfying the
// broadcast traversal invariant in spec.md §4.3.
func (c *Channel) Members() []*registry.Session {
	out := make([]*registry.Session, len(c.members))
	copy(out, c.members)
	return out
}

// MemberCount reports the live member count without allocating a snapshot.
func (c *Channel) MemberCount() int {
	return len(c.members)
}

// Info is the read-only view returned by channel_info / list_channels.
type Info struct {
	TenantID    string
	Room        string
	Name        string
	Creator     string
	CreatedAt   time.Time
	Description string
	AdminOnly   bool
	MemberCount int
}

func (c *Channel) info() Info {
	return Info{
		TenantID:    c.TenantID,
		Room:        c.Room,
		Name:        c.Name,
		Creator:     c.Creator,
		CreatedAt:   c.CreatedAt,
		Description: c.Description,
		AdminOnly:   c.AdminOnly,
		MemberCount: len(c.members),
	}
}
