package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
)

// Session is a connected client's registry-owned state: its identity, its
// bounded outbound queue, and its membership bookkeeping (rooms/channels
// own the membership sets themselves; the session only tracks which keys
// it has joined, so close-time cleanup knows where to look).
//
// Per spec.md §3, the client registry exclusively owns sessions and their
// send queues.
type Session struct {
	SessionID string
	ClientID  string
	TenantID  string
	Roles     []protocol.Role

	ConnectedAt time.Time

	queue *sendQueue
	done  chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool

	lastActivity atomic.Int64 // unix nanos

	membershipMu sync.Mutex
	memberships  map[membershipKey]struct{}
}

type membershipKey struct {
	Room    string
	Channel string
}

func newSession(principal protocol.Principal, sessionID string, queueDepth int, grace time.Duration, now time.Time) *Session {
	s := &Session{
		SessionID:   sessionID,
		ClientID:    principal.ClientID,
		TenantID:    principal.TenantID,
		Roles:       principal.Roles,
		ConnectedAt: now,
		queue:       newSendQueue(queueDepth, grace),
		done:        make(chan struct{}),
		memberships: make(map[membershipKey]struct{}),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// Principal reconstructs the authorization identity for this session.
func (s *Session) Principal() protocol.Principal {
	return protocol.Principal{TenantID: s.TenantID, ClientID: s.ClientID, Roles: s.Roles}
}

// Touch records activity, used for idle/heartbeat accounting.
func (s *Session) Touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

// LastActivity returns the last recorded activity time.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Done returns a channel closed when the session is shutting down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// QueueDepth reports the current outbound queue length.
func (s *Session) QueueDepth() int {
	return s.queue.Depth()
}

// Pop drains the next outbound envelope; used by the connection's writer
// goroutine. stop is typically the connection's context-done channel.
func (s *Session) Pop(stop <-chan struct{}) (protocol.Envelope, bool) {
	return s.queue.Pop(stop)
}

// close is idempotent and only ever called by the Registry, which owns the
// session's lifecycle.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.queue.Close()
		close(s.done)
	})
}

func (s *Session) isClosed() bool {
	return s.closed.Load()
}

// RecordJoin records that this session joined (room, channel). Called by
// the rooms store after it admits the session into a channel's member set;
// the registry never touches membership state directly.
func (s *Session) RecordJoin(room, channel string) {
	s.membershipMu.Lock()
	s.memberships[membershipKey{Room: room, Channel: channel}] = struct{}{}
	s.membershipMu.Unlock()
}

// RecordLeave is RecordJoin's inverse, called after the rooms store removes
// the session from a channel's member set.
func (s *Session) RecordLeave(room, channel string) {
	s.membershipMu.Lock()
	delete(s.memberships, membershipKey{Room: room, Channel: channel})
	s.membershipMu.Unlock()
}

// Memberships snapshots the (room, channel) pairs this session has joined,
// used to fan cleanup out to the rooms/channels store on disconnect.
func (s *Session) Memberships() []membershipKey {
	s.membershipMu.Lock()
	defer s.membershipMu.Unlock()
	out := make([]membershipKey, 0, len(s.memberships))
	for k := range s.memberships {
		out = append(out, k)
	}
	return out
}
