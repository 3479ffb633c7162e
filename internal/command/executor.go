// Package command implements the control-plane dispatcher from spec.md
// §4.7: a fixed, versioned command set with per-command argument schemas,
// role-gated authorization, and deterministic response envelopes. Command
// dispatch bypasses routing entirely and mutates the registry/rooms store
// directly under their own locks.
package command

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/history"
	"github.com/novelbytelabs/arqonbus/internal/identity/ids"
	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/novelbytelabs/arqonbus/internal/registry"
	"github.com/novelbytelabs/arqonbus/internal/rooms"
	"github.com/novelbytelabs/arqonbus/internal/router"
)

// Context carries everything a Handler needs for one command invocation.
type Context struct {
	Env       protocol.Envelope
	Principal protocol.Principal
	Session   *registry.Session
	Now       time.Time
}

// Executor wires the command registry to the live registry/rooms/router/
// history collaborators. One Executor is shared across all connections.
type Executor struct {
	log      *slog.Logger
	registry *Registry
	clients  *registry.Registry
	rooms    *rooms.Store
	router   *router.Router
	history  history.Store

	limiterMu sync.Mutex
	limiters  map[string]*RateLimiter
}

// New constructs an Executor.
func New(log *slog.Logger, clients *registry.Registry, roomStore *rooms.Store, rt *router.Router, historyStore history.Store) *Executor {
	return &Executor{
		log:      log,
		registry: NewRegistry(),
		clients:  clients,
		rooms:    roomStore,
		router:   rt,
		history:  historyStore,
		limiters: make(map[string]*RateLimiter),
	}
}

func (e *Executor) limiterFor(sessionID string) *RateLimiter {
	e.limiterMu.Lock()
	defer e.limiterMu.Unlock()
	l, ok := e.limiters[sessionID]
	if !ok {
		l = NewRateLimiter(defaultRateLimitEvents, defaultRateLimitWindow)
		e.limiters[sessionID] = l
	}
	return l
}

// ForgetSession releases a disconnected session's rate-limiter state.
func (e *Executor) ForgetSession(sessionID string) {
	e.limiterMu.Lock()
	delete(e.limiters, sessionID)
	e.limiterMu.Unlock()
}

// Dispatch executes env.Command and returns the response (or error)
// envelope to deliver back to the originating session. It has no Go error
// return: every expected, client-facing failure (unknown command, denied
// authorization, rate limit, handler validation error) is represented as
// a `type=error` envelope instead.
func (e *Executor) Dispatch(env protocol.Envelope, principal protocol.Principal, sess *registry.Session, now time.Time) protocol.Envelope {
	respID, err := ids.NewULID(now)
	if err != nil {
		respID = env.ID
	}

	if !e.limiterFor(sess.SessionID).Allow(now) {
		return protocol.NewErrorEnvelope(respID, now, env.ID, env.TenantID, "RATE_LIMIT_EXCEEDED", "command rate limit exceeded")
	}

	h, ok := e.registry.Lookup(env.Command)
	if !ok {
		return protocol.NewErrorEnvelope(respID, now, env.ID, env.TenantID, "COMMAND_NOT_FOUND", "unknown command: "+env.Command)
	}
	if !h.authorize(principal) {
		return protocol.NewErrorEnvelope(respID, now, env.ID, env.TenantID, "AUTHORIZATION_DENIED", "insufficient role for command: "+env.Command)
	}

	cctx := Context{Env: env, Principal: principal, Session: sess, Now: now}
	result, err := h.Exec(e, cctx)
	if err != nil {
		return protocol.NewErrorEnvelope(respID, now, env.ID, env.TenantID, "COMMAND_VALIDATION_ERROR", err.Error())
	}

	payload, err := json.Marshal(responseBody{Status: "success", Command: env.Command, Result: result})
	if err != nil {
		return protocol.NewErrorEnvelope(respID, now, env.ID, env.TenantID, "INTERNAL_ERROR", "failed to encode response")
	}
	return protocol.NewResponseEnvelope(respID, now, env.ID, env.TenantID, payload)
}

type responseBody struct {
	Status  string `json:"status"`
	Command string `json:"command"`
	Result  any    `json:"result,omitempty"`
}
