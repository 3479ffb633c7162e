// Package registry implements the client registry described in spec.md
// §4.2: it exclusively owns session objects and their bounded outbound
// send queues, and enforces the single-live-session-per-client_id
// invariant.
package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/novelbytelabs/arqonbus/internal/telemetry"
)

// DuplicateIdentityPolicy resolves Open Question 5 in spec.md §9: what
// happens when a client_id reconnects while a live session already exists.
type DuplicateIdentityPolicy int

const (
	// PolicySupersede closes the existing session (delivering it a
	// DUPLICATE_IDENTITY error first, best-effort) and accepts the new
	// one. This is the default: it avoids stranding a client who
	// reconnected after a network blip.
	PolicySupersede DuplicateIdentityPolicy = iota
	// PolicyReject refuses the new connection while the old one is live.
	PolicyReject
)

// ErrDuplicateIdentity is returned by Register under PolicyReject.
var ErrDuplicateIdentity = errors.New("registry: DUPLICATE_IDENTITY")

type tenantClientKey struct {
	TenantID string
	ClientID string
}

// Config controls registry-wide defaults.
type Config struct {
	SendQueueDepth    int
	BackpressureGrace time.Duration
	DuplicateIdentity DuplicateIdentityPolicy
}

func DefaultConfig() Config {
	return Config{
		SendQueueDepth:    128,
		BackpressureGrace: 5 * time.Second,
		DuplicateIdentity: PolicySupersede,
	}
}

// Registry maps client_id (scoped by tenant) to at most one live session.
type Registry struct {
	log     *slog.Logger
	cfg     Config
	metrics *telemetry.Metrics

	mu    sync.RWMutex
	byKey map[tenantClientKey]*Session
	bySID map[string]*Session
}

// New constructs a Registry. metrics may be nil in tests.
func New(log *slog.Logger, cfg Config, metrics *telemetry.Metrics) *Registry {
	return &Registry{
		log:     log,
		cfg:     cfg,
		metrics: metrics,
		byKey:   make(map[tenantClientKey]*Session),
		bySID:   make(map[string]*Session),
	}
}

// Register creates a new session for principal. If a live session already
// exists for the same (tenant, client_id), the configured
// DuplicateIdentityPolicy decides whether it is superseded (returned as
// `superseded`, for the caller to close with DUPLICATE_IDENTITY) or the
// call fails with ErrDuplicateIdentity.
func (r *Registry) Register(principal protocol.Principal, sessionID string, now time.Time) (sess *Session, superseded *Session, err error) {
	key := tenantClientKey{TenantID: principal.TenantID, ClientID: principal.ClientID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byKey[key]; ok {
		switch r.cfg.DuplicateIdentity {
		case PolicyReject:
			return nil, nil, ErrDuplicateIdentity
		default:
			superseded = existing
			delete(r.bySID, existing.SessionID)
		}
	}

	sess = newSession(principal, sessionID, r.cfg.SendQueueDepth, r.cfg.BackpressureGrace, now)
	r.byKey[key] = sess
	r.bySID[sessionID] = sess

	if r.metrics != nil {
		r.metrics.SessionsActive.Set(float64(len(r.byKey)))
	}
	return sess, superseded, nil
}

// Unregister removes a session from the registry and closes it. It is
// idempotent and safe to call from both the connection's shutdown path and
// a superseding Register call.
func (r *Registry) Unregister(sess *Session) {
	if sess == nil {
		return
	}

	r.mu.Lock()
	key := tenantClientKey{TenantID: sess.TenantID, ClientID: sess.ClientID}
	if cur, ok := r.byKey[key]; ok && cur == sess {
		delete(r.byKey, key)
	}
	delete(r.bySID, sess.SessionID)
	if r.metrics != nil {
		r.metrics.SessionsActive.Set(float64(len(r.byKey)))
	}
	r.mu.Unlock()

	sess.close()
}

// Lookup resolves a client_id within a tenant to its live session, if any.
func (r *Registry) Lookup(tenantID, clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byKey[tenantClientKey{TenantID: tenantID, ClientID: clientID}]
	return s, ok
}

// LookupBySessionID resolves a session by its connection-scoped id.
func (r *Registry) LookupBySessionID(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.bySID[sessionID]
	return s, ok
}

// Enqueue delivers env to sess's outbound queue under the backpressure
// policy in spec.md §4.2/§5. Callers MUST close the session when the
// outcome is EnqueueSaturated.
func (r *Registry) Enqueue(sess *Session, env protocol.Envelope, now time.Time) EnqueueOutcome {
	if sess == nil || sess.isClosed() {
		return EnqueueDropped
	}

	outcome := sess.queue.Push(env, now)

	if r.metrics != nil {
		r.metrics.SendQueueDepth.Observe(float64(sess.QueueDepth()))
		if outcome != EnqueueOK {
			r.metrics.EnqueueDropped.WithLabelValues(string(env.Type)).Inc()
		}
	}
	return outcome
}

// CloseSession shuts down sess's queue and closes its done channel. Used by
// the ws gateway to finalize a session Register returned as `superseded`:
// that session has already been detached from the registry's maps, so its
// owning connection is solely responsible for tearing it down.
func (r *Registry) CloseSession(sess *Session) {
	if sess == nil {
		return
	}
	sess.close()
}

// Count returns the number of live sessions, used by status/health checks.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}
