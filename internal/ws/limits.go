package ws

import "time"

// Transport-level limits, distinct from CASIL's soft inspection limits
// (spec.md §4.1 step 8: "configurable, distinct from CASIL's soft limit").
const (
	// DefaultMaxFrameBytes bounds a single websocket frame.
	DefaultMaxFrameBytes = 256 << 10 // 256 KiB

	DefaultSendQueueDepth = 128
	DefaultWriteTimeout   = 5 * time.Second
	DefaultCloseTimeout   = 1 * time.Second

	DefaultHeartbeatInterval  = 25 * time.Second
	DefaultHeartbeatTimeout   = 5 * time.Second
	DefaultMaxPingFailures    = 3

	// Socket-level inbound rate limiting (distinct from the command
	// executor's per-command limiter): events per window before the
	// connection is dropped with a policy violation.
	DefaultInboundRateEvents = 240
	DefaultInboundRateWindow = 10 * time.Second
)

// Subprotocol is the negotiated WebSocket subprotocol ArqonBus clients must
// offer.
const Subprotocol = "arqonbus.v1"
