// Package rooms implements the rooms/channels store from spec.md §4.3: the
// authoritative membership sets keyed by (tenant, room, channel), with
// per-(tenant,room) fine-grained locking per spec.md §5.
package rooms

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/novelbytelabs/arqonbus/internal/registry"
)

type roomKey struct {
	TenantID string
	Name     string
}

// TenantPolicy configures per-tenant auto-creation behavior.
type TenantPolicy struct {
	// AutoCreateChannels controls whether join_channel may implicitly
	// create a missing channel (and its parent room). Default true.
	AutoCreateChannels bool
	// AdminOnlyCreation requires the admin role for create_channel (and
	// any implicit auto-create) when true.
	AdminOnlyCreation bool
}

// Store is the authoritative rooms/channels membership store. Every key is
// prefixed by tenant_id, and cross-tenant access fails closed with
// ErrTenantIsolationBreach (spec.md §4.3).
type Store struct {
	log      *slog.Logger
	snapshot SnapshotStore

	mapMu sync.RWMutex
	rooms map[roomKey]*Room

	policyMu sync.RWMutex
	policies map[string]TenantPolicy
}

func New(log *slog.Logger) *Store {
	return &Store{
		log:      log,
		rooms:    make(map[roomKey]*Room),
		policies: make(map[string]TenantPolicy),
	}
}

// NewWithSnapshot is New plus a durable snapshot store: every
// CreateChannel/DeleteChannel also persists through snap, and the
// returned Store is pre-populated by replaying snap.LoadAll(), so a
// restart rehydrates channel metadata without replaying join history.
func NewWithSnapshot(log *slog.Logger, snap SnapshotStore) (*Store, error) {
	s := New(log)
	s.snapshot = snap

	snaps, err := snap.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, sn := range snaps {
		r := s.getOrCreateRoom(sn.TenantID, sn.Room, sn.Creator, sn.CreatedAt)
		r.mu.Lock()
		r.channels[sn.Channel] = newChannel(sn.TenantID, sn.Room, sn.Channel, sn.Creator, sn.Description, sn.AdminOnly, sn.CreatedAt)
		r.mu.Unlock()
	}
	return s, nil
}

// SetTenantPolicy installs (or replaces) the auto-creation policy for a
// tenant. Absent an explicit policy, auto-create defaults to enabled and
// creation is not admin-only, per spec.md §4.3 ("Auto-creation on join is
// enabled by default but configurable per-tenant").
func (s *Store) SetTenantPolicy(tenantID string, p TenantPolicy) {
	s.policyMu.Lock()
	defer s.policyMu.Unlock()
	s.policies[tenantID] = p
}

func (s *Store) tenantPolicy(tenantID string) TenantPolicy {
	s.policyMu.RLock()
	defer s.policyMu.RUnlock()
	if p, ok := s.policies[tenantID]; ok {
		return p
	}
	return TenantPolicy{AutoCreateChannels: true}
}

func (s *Store) getRoom(tenantID, name string) (*Room, bool) {
	s.mapMu.RLock()
	defer s.mapMu.RUnlock()
	r, ok := s.rooms[roomKey{TenantID: tenantID, Name: name}]
	return r, ok
}

func (s *Store) getOrCreateRoom(tenantID, name, creator string, now time.Time) *Room {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	key := roomKey{TenantID: tenantID, Name: name}
	if r, ok := s.rooms[key]; ok {
		return r
	}
	r := newRoom(tenantID, name, creator, now)
	s.rooms[key] = r
	return r
}

// dropRoomIfEmpty removes a room once it has no channels left, implementing
// the "destroyed when ... no channels remain" half of spec.md §3's Room
// lifecycle rule. Callers must NOT hold r.mu when calling this.
func (s *Store) dropRoomIfEmpty(r *Room) {
	r.mu.RLock()
	empty := r.channelCount() == 0
	r.mu.RUnlock()
	if !empty {
		return
	}
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	if cur, ok := s.rooms[roomKey{TenantID: r.TenantID, Name: r.Name}]; ok && cur == r {
		cur.mu.RLock()
		stillEmpty := cur.channelCount() == 0
		cur.mu.RUnlock()
		if stillEmpty {
			delete(s.rooms, roomKey{TenantID: r.TenantID, Name: r.Name})
		}
	}
}

// CreateChannel creates channel under room for tenantID. Explicit creation,
// like auto-create-on-join, requires the creator's principal to satisfy
// the tenant's AdminOnlyCreation policy when set.
func (s *Store) CreateChannel(tenantID, room, channel string, creator protocol.Principal, description string, adminOnly bool, now time.Time) (*Channel, error) {
	policy := s.tenantPolicy(tenantID)
	if policy.AdminOnlyCreation && !creator.IsAdmin() {
		return nil, ErrAdminRequired
	}
	if creator.TenantID != tenantID {
		return nil, ErrTenantIsolationBreach
	}

	r := s.getOrCreateRoom(tenantID, room, creator.ClientID, now)

	r.mu.Lock()
	if _, exists := r.channels[channel]; exists {
		r.mu.Unlock()
		return nil, ErrChannelExists
	}
	ch := newChannel(tenantID, room, channel, creator.ClientID, description, adminOnly, now)
	r.channels[channel] = ch
	r.mu.Unlock()

	s.persistChannel(ChannelSnapshot{
		TenantID:    tenantID,
		Room:        room,
		Channel:     channel,
		Creator:     creator.ClientID,
		Description: description,
		AdminOnly:   adminOnly,
		CreatedAt:   now,
	})
	return ch, nil
}

// persistChannel writes through s.snapshot if one is wired in. A snapshot
// write failure is logged, not returned: the durable snapshot is an
// optional rehydration aid (spec.md §4.3), not the source of truth for a
// running process, so it must never block create_channel/delete_channel.
func (s *Store) persistChannel(snap ChannelSnapshot) {
	if s.snapshot == nil {
		return
	}
	if err := s.snapshot.PutChannel(snap); err != nil && s.log != nil {
		s.log.Warn("rooms.snapshot_put_failed", "tenant_id", snap.TenantID, "room", snap.Room, "channel", snap.Channel, "err", err)
	}
}

func (s *Store) unpersistChannel(tenantID, room, channel string) {
	if s.snapshot == nil {
		return
	}
	if err := s.snapshot.DeleteChannel(tenantID, room, channel); err != nil && s.log != nil {
		s.log.Warn("rooms.snapshot_delete_failed", "tenant_id", tenantID, "room", room, "channel", channel, "err", err)
	}
}

// DeleteChannel removes a channel. Per spec.md §4.3, destructive operations
// require the admin role. If the channel was its room's last channel, the
// room is destroyed too.
func (s *Store) DeleteChannel(tenantID, room, channel string, by protocol.Principal) error {
	if !by.IsAdmin() {
		return ErrAdminRequired
	}
	if by.TenantID != tenantID {
		return ErrTenantIsolationBreach
	}

	r, ok := s.getRoom(tenantID, room)
	if !ok {
		return ErrRoomNotFound
	}

	r.mu.Lock()
	if _, exists := r.channels[channel]; !exists {
		r.mu.Unlock()
		return ErrChannelNotFound
	}
	delete(r.channels, channel)
	r.mu.Unlock()

	s.dropRoomIfEmpty(r)
	s.unpersistChannel(tenantID, room, channel)
	return nil
}

// JoinChannel adds sess to (tenant, room, channel), auto-creating the
// channel (and its parent room) when the tenant's policy allows it. Joining
// twice is idempotent (spec.md §8).
func (s *Store) JoinChannel(tenantID, room, channel string, sess *registry.Session, now time.Time) error {
	if sess.TenantID != tenantID {
		return ErrTenantIsolationBreach
	}

	r, ok := s.getRoom(tenantID, room)
	if !ok {
		policy := s.tenantPolicy(tenantID)
		if !policy.AutoCreateChannels {
			return ErrAutoCreateDisabled
		}
		r = s.getOrCreateRoom(tenantID, room, sess.ClientID, now)
	}

	r.mu.Lock()
	ch, exists := r.channels[channel]
	if !exists {
		policy := s.tenantPolicy(tenantID)
		if policy.AdminOnlyCreation && !sess.Principal().IsAdmin() {
			r.mu.Unlock()
			return ErrAdminRequired
		}
		if !policy.AutoCreateChannels {
			r.mu.Unlock()
			return ErrAutoCreateDisabled
		}
		ch = newChannel(tenantID, room, channel, sess.ClientID, "", false, now)
		r.channels[channel] = ch
	}
	ch.addMember(sess)
	r.mu.Unlock()

	sess.RecordJoin(room, channel)
	return nil
}

// LeaveChannel removes sess from (tenant, room, channel). Idempotent.
func (s *Store) LeaveChannel(tenantID, room, channel string, sess *registry.Session) error {
	r, ok := s.getRoom(tenantID, room)
	if !ok {
		return nil
	}

	r.mu.Lock()
	ch, exists := r.channels[channel]
	if exists {
		ch.removeMember(sess.SessionID)
	}
	r.mu.Unlock()

	sess.RecordLeave(room, channel)
	return nil
}

// PurgeSession removes sess from every membership it holds, used on
// connection close (spec.md §5: "rooms/channels membership is purged").
// Membership keys are locked in lexicographic (room, channel) order so
// concurrent purges/broadcasts never deadlock, per spec.md §5.
func (s *Store) PurgeSession(sess *registry.Session) {
	memberships := sess.Memberships()
	sort.Slice(memberships, func(i, j int) bool {
		if memberships[i].Room != memberships[j].Room {
			return memberships[i].Room < memberships[j].Room
		}
		return memberships[i].Channel < memberships[j].Channel
	})
	for _, m := range memberships {
		_ = s.LeaveChannel(sess.TenantID, m.Room, m.Channel, sess)
	}
}

// Members returns the live member sessions of (tenant, room, channel).
func (s *Store) Members(tenantID, room, channel string) ([]*registry.Session, error) {
	r, ok := s.getRoom(tenantID, room)
	if !ok {
		return nil, ErrRoomNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[channel]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch.Members(), nil
}

// RoomMembers returns the union of members across all channels of a room,
// the derived room-membership rule. Each session appears at most once
// even if it belongs to several channels of the room.
func (s *Store) RoomMembers(tenantID, room string) ([]*registry.Session, error) {
	r, ok := s.getRoom(tenantID, room)
	if !ok {
		return nil, ErrRoomNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []*registry.Session
	for _, ch := range r.channels {
		for _, m := range ch.Members() {
			if _, dup := seen[m.SessionID]; dup {
				continue
			}
			seen[m.SessionID] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

// ChannelInfo returns read-only metadata for (tenant, room, channel).
func (s *Store) ChannelInfo(tenantID, room, channel string) (Info, error) {
	r, ok := s.getRoom(tenantID, room)
	if !ok {
		return Info{}, ErrRoomNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[channel]
	if !ok {
		return Info{}, ErrChannelNotFound
	}
	return ch.info(), nil
}

// ListChannels returns every channel's Info for a tenant, ordered by
// (room, channel) for deterministic output.
func (s *Store) ListChannels(tenantID string) []Info {
	s.mapMu.RLock()
	var rs []*Room
	for k, r := range s.rooms {
		if k.TenantID == tenantID {
			rs = append(rs, r)
		}
	}
	s.mapMu.RUnlock()

	sort.Slice(rs, func(i, j int) bool { return rs[i].Name < rs[j].Name })

	var out []Info
	for _, r := range rs {
		r.mu.RLock()
		names := make([]string, 0, len(r.channels))
		for name := range r.channels {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, r.channels[name].info())
		}
		r.mu.RUnlock()
	}
	return out
}

// ChannelExists reports whether (tenant, room, channel) currently exists.
func (s *Store) ChannelExists(tenantID, room, channel string) bool {
	r, ok := s.getRoom(tenantID, room)
	if !ok {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok = r.channels[channel]
	return ok
}

// SplitRoomChannel parses the `room:channel` combined syntax spec.md §4.4
// allows when a channel target doesn't carry a separate room field.
func SplitRoomChannel(s string) (room, channel string, ok bool) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}
