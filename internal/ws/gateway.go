// Package ws terminates WebSocket connections and bridges them into the
// core envelope pipeline: validation, CASIL inspection, history recording,
// and routing/command dispatch.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/novelbytelabs/arqonbus/internal/casil"
	"github.com/novelbytelabs/arqonbus/internal/command"
	"github.com/novelbytelabs/arqonbus/internal/history"
	"github.com/novelbytelabs/arqonbus/internal/identity/ids"
	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/novelbytelabs/arqonbus/internal/registry"
	"github.com/novelbytelabs/arqonbus/internal/rooms"
	"github.com/novelbytelabs/arqonbus/internal/router"
	"github.com/novelbytelabs/arqonbus/internal/telemetry"
)

// Config bundles the tunables Gateway needs beyond its collaborators.
type Config struct {
	MaxFrameBytes int

	WriteTimeout time.Duration
	CloseTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxPingFailures   int

	InboundRateEvents int
	InboundRateWindow time.Duration

	Validation protocol.ValidationConfig
}

func DefaultConfig() Config {
	return Config{
		MaxFrameBytes:     DefaultMaxFrameBytes,
		WriteTimeout:      DefaultWriteTimeout,
		CloseTimeout:      DefaultCloseTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
		MaxPingFailures:   DefaultMaxPingFailures,
		InboundRateEvents: DefaultInboundRateEvents,
		InboundRateWindow: DefaultInboundRateWindow,
		Validation:        protocol.DefaultValidationConfig(),
	}
}

// Gateway accepts WebSocket upgrades and owns the per-connection
// accept/read/write/heartbeat lifecycle. One Gateway is shared across all
// connections; its collaborators (registry, rooms, router, CASIL, history,
// commands) are each independently concurrency-safe.
type Gateway struct {
	log  *slog.Logger
	cfg  Config
	auth Authenticator

	clients  *registry.Registry
	rooms    *rooms.Store
	rt       *router.Router
	casil    *casil.Engine
	recorder *history.Recorder
	exec     *command.Executor
	metrics  *telemetry.Metrics
}

// New constructs a Gateway. metrics may be nil in tests.
func New(
	log *slog.Logger,
	cfg Config,
	auth Authenticator,
	clients *registry.Registry,
	roomStore *rooms.Store,
	rt *router.Router,
	casilEngine *casil.Engine,
	recorder *history.Recorder,
	exec *command.Executor,
	metrics *telemetry.Metrics,
) *Gateway {
	return &Gateway{
		log:      log,
		cfg:      cfg,
		auth:     auth,
		clients:  clients,
		rooms:    roomStore,
		rt:       rt,
		casil:    casilEngine,
		recorder: recorder,
		exec:     exec,
		metrics:  metrics,
	}
}

// ServeHTTP upgrades the request to a WebSocket connection and runs its
// full lifecycle. It returns once the connection has fully shut down.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, err := g.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
		// Origin/CORS policy is the edge layer's concern alongside
		// authentication (spec.md §1); the core only enforces the
		// subprotocol and defers to Authenticator for identity.
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	conn.SetReadLimit(int64(g.cfg.MaxFrameBytes))

	now := time.Now().UTC()
	sessionID, err := ids.NewULID(now)
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "session id allocation failed")
		return
	}

	sess, superseded, err := g.clients.Register(principal, sessionID, now)
	if err != nil {
		g.log.Info("ws.register.denied", "tenant_id", principal.TenantID, "client_id", principal.ClientID, "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "duplicate identity")
		return
	}
	if superseded != nil {
		g.closeSuperseded(r.Context(), superseded)
	}

	c := &connection{
		gateway:   g,
		conn:      conn,
		sess:      sess,
		principal: principal,
		limiter:   rate.NewLimiter(rate.Every(g.cfg.InboundRateWindow/time.Duration(g.cfg.InboundRateEvents)), g.cfg.InboundRateEvents),
	}
	c.run(r.Context())
}

// closeSuperseded delivers a best-effort DUPLICATE_IDENTITY notice to a
// session Register has already detached from the registry, then tears it
// down. The session's own connection goroutines observe Done() closing and
// exit; this call only unblocks them and frees registry bookkeeping.
func (g *Gateway) closeSuperseded(ctx context.Context, sess *registry.Session) {
	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		id = sess.SessionID
	}
	notice := protocol.NewErrorEnvelope(id, now, "", sess.TenantID, "DUPLICATE_IDENTITY", "session superseded by a new connection")
	g.clients.Enqueue(sess, notice, now)
	g.clients.CloseSession(sess)
}

// connection is the per-socket state threaded through the reader, writer,
// and heartbeat goroutines of a single accepted WebSocket.
type connection struct {
	gateway   *Gateway
	conn      *websocket.Conn
	sess      *registry.Session
	principal protocol.Principal
	limiter   *rate.Limiter

	closeOnce sync.Once
}

func (c *connection) run(parent context.Context) {
	g := c.gateway
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	shutdown := func(status websocket.StatusCode, reason string) {
		c.closeOnce.Do(func() {
			_ = c.conn.Close(status, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx, shutdown)
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		c.heartbeatLoop(ctx, shutdown)
	}()

	c.readLoop(ctx, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone
	select {
	case <-heartbeatDone:
	case <-time.After(g.cfg.CloseTimeout):
	}

	g.rooms.PurgeSession(c.sess)
	g.clients.Unregister(c.sess)
	g.exec.ForgetSession(c.sess.SessionID)
}

func (c *connection) writeLoop(ctx context.Context, shutdown func(websocket.StatusCode, string)) {
	for {
		env, ok := c.sess.Pop(c.sess.Done())
		if !ok {
			return
		}
		if err := c.writeEnvelope(ctx, env); err != nil {
			c.gateway.log.Info("ws.write.fail", "session_id", c.sess.SessionID, "err", err)
			shutdown(websocket.StatusAbnormalClosure, "write failed")
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (c *connection) writeEnvelope(parent context.Context, env protocol.Envelope) error {
	ctx, cancel := context.WithTimeout(parent, c.gateway.cfg.WriteTimeout)
	defer cancel()
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, b)
}

func (c *connection) heartbeatLoop(ctx context.Context, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(c.gateway.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, c.gateway.cfg.HeartbeatTimeout)
			err := c.conn.Ping(hbCtx)
			hbCancel()
			if err != nil {
				failures++
				c.gateway.log.Info("ws.ping.fail", "session_id", c.sess.SessionID, "failures", failures, "err", err)
				if failures >= c.gateway.cfg.MaxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
			c.sess.Touch(time.Now().UTC())
		}
	}
}

func (c *connection) readLoop(ctx context.Context, shutdown func(websocket.StatusCode, string)) {
	g := c.gateway
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			switch classifyWSReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "session_id", c.sess.SessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}

		now := time.Now().UTC()
		c.sess.Touch(now)

		if !c.limiter.AllowN(now, 1) {
			g.clients.Enqueue(c.sess, protocol.NewErrorEnvelope(c.sess.SessionID, now, "", c.principal.TenantID, "RATE_LIMIT_EXCEEDED", "inbound message rate exceeded"), now)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			return
		}

		if outcome := c.handleFrame(ctx, data, now); outcome == registry.EnqueueSaturated {
			shutdown(websocket.StatusPolicyViolation, "send queue saturated")
			return
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// handleFrame validates, inspects, records, and routes or dispatches a
// single inbound frame. It returns the EnqueueOutcome of delivering any
// direct response to c.sess itself (not to other recipients, whose
// backpressure is their own connection's problem), since only saturation
// of the originating session's own queue requires the read loop to close
// this connection.
func (c *connection) handleFrame(ctx context.Context, data []byte, now time.Time) registry.EnqueueOutcome {
	g := c.gateway

	env, err := protocol.Validate(data, c.principal, g.cfg.Validation, now)
	if err != nil {
		id, idErr := ids.NewULID(now)
		if idErr != nil {
			id = c.sess.SessionID
		}
		code := "SCHEMA_ERROR"
		if ve, ok := err.(*protocol.ValidationError); ok {
			code = ve.Code
		}
		return g.clients.Enqueue(c.sess, protocol.NewErrorEnvelope(id, now, "", c.principal.TenantID, code, err.Error()), now)
	}

	if env.Type == protocol.TypeCommand {
		resp := g.exec.Dispatch(env, c.principal, c.sess, now)
		return g.clients.Enqueue(c.sess, resp, now)
	}

	outcome := g.casil.Evaluate(env)
	if g.metrics != nil {
		g.metrics.CASILDecisions.WithLabelValues(string(outcome.Decision), string(outcome.ReasonCode)).Inc()
		if outcome.ReasonCode == casil.ReasonInternalError {
			g.metrics.CASILErrors.Inc()
		}
	}

	if outcome.Decision == casil.DecisionBlock {
		id, idErr := ids.NewULID(now)
		if idErr != nil {
			id = c.sess.SessionID
		}
		return g.clients.Enqueue(c.sess, protocol.NewErrorEnvelope(id, now, env.ID, c.principal.TenantID, string(outcome.ReasonCode), "message blocked by content policy"), now)
	}

	toRoute := env
	if outcome.Decision == casil.DecisionAllowWithRedaction && outcome.RedactedPayload != nil {
		toRoute.Payload = outcome.RedactedPayload
	}
	g.casil.Annotate(&toRoute, outcome)

	if _, err := g.recorder.Record(ctx, env, outcome, now); err != nil {
		g.log.Warn("ws.history.append_failed", "session_id", c.sess.SessionID, "err", err)
		if g.metrics != nil {
			g.metrics.HistoryAppendFail.WithLabelValues("recorder").Inc()
		}
	}

	if _, err := g.rt.Route(toRoute); err != nil && err != router.ErrNoRecipients {
		g.log.Warn("ws.route.failed", "session_id", c.sess.SessionID, "err", err)
	}

	return registry.EnqueueOK
}
