package rooms

import (
	"sync"
	"time"
)

// Room is identified by (tenant_id, room_name). Room membership is
// derived as the union of its channels' members: a Room holds no member
// set of its own, only its child channels. This is also why the fixed
// command set has no join_room/leave_room: membership is always
// established at channel granularity.
type Room struct {
	TenantID  string
	Name      string
	Creator   string
	CreatedAt time.Time

	mu       sync.RWMutex
	channels map[string]*Channel
}

func newRoom(tenantID, name, creator string, now time.Time) *Room {
	return &Room{
		TenantID:  tenantID,
		Name:      name,
		Creator:   creator,
		CreatedAt: now,
		channels:  make(map[string]*Channel),
	}
}

// channelCount reports the number of channels under the lock. Callers must
// hold r.mu.
func (r *Room) channelCount() int {
	return len(r.channels)
}
