// Package protocol defines ArqonBus's wire envelope: the structured atom
// exchanged over every connection, and the validation that gates it before
// CASIL inspection and routing.
package protocol

import (
	"encoding/json"
	"time"
)

// Version is the protocol version string embedded into every envelope.
const Version = "1"

// Type enumerates the envelope kinds defined by spec.md §3.
type Type string

const (
	TypeMessage   Type = "message"
	TypeCommand   Type = "command"
	TypeResponse  Type = "response"
	TypeTelemetry Type = "telemetry"
	TypeError     Type = "error"
	TypeEvent     Type = "event"
)

func (t Type) valid() bool {
	switch t {
	case TypeMessage, TypeCommand, TypeResponse, TypeTelemetry, TypeError, TypeEvent:
		return true
	default:
		return false
	}
}

// Envelope is the canonical wire atom. Unknown optional fields surviving a
// round trip through encoding/json's default behavior (they are simply
// dropped, since Go structs are not open maps) is a known limitation of the
// text codec; see Codec for the extension point that would preserve them.
type Envelope struct {
	ID            string            `json:"id"`
	Type          Type              `json:"type"`
	Version       string            `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	FromClient    string            `json:"from_client"`
	ToClient      string            `json:"to_client,omitempty"`
	Room          string            `json:"room,omitempty"`
	Channel       string            `json:"channel,omitempty"`
	Command       string            `json:"command,omitempty"`
	Args          json.RawMessage   `json:"args,omitempty"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	TenantID      string            `json:"tenant_id,omitempty"`
}

// RouteKey identifies the (tenant, room, channel) destination an envelope
// resolves to for history and FIFO-ordering purposes. Direct messages use a
// synthetic channel component so they still have a stable sequencing key.
type RouteKey struct {
	TenantID string
	Room     string
	Channel  string
}

// ScopeKey renders "room:channel", the key CASIL's scope matcher operates on.
func (k RouteKey) ScopeKey() string {
	if k.Room == "" {
		return ":" + k.Channel
	}
	if k.Channel == "" {
		return k.Room + ":"
	}
	return k.Room + ":" + k.Channel
}

// WantsEcho reports whether the envelope explicitly requested echo-to-sender
// on room/channel fan-out (Open Question 2 in spec.md §9; default excluded).
func (e Envelope) WantsEcho() bool {
	return e.Metadata != nil && e.Metadata["echo"] == "true"
}

// NewResponseEnvelope builds the `type=response` envelope used for
// acknowledgements and other server-originated replies to a client request.
func NewResponseEnvelope(id string, now time.Time, requestID string, tenantID string, payload json.RawMessage) Envelope {
	return Envelope{
		ID:            id,
		Type:          TypeResponse,
		Version:       Version,
		Timestamp:     now,
		FromClient:    "arqonbus",
		CorrelationID: requestID,
		TenantID:      tenantID,
		Payload:       payload,
	}
}

// NewErrorEnvelope builds a `type=error` envelope carrying a closed-set reason
// code, used both for validation failures (§4.1) and CASIL blocks (§4.5).
func NewErrorEnvelope(id string, now time.Time, requestID, tenantID, code, message string) Envelope {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return Envelope{
		ID:            id,
		Type:          TypeError,
		Version:       Version,
		Timestamp:     now,
		FromClient:    "arqonbus",
		CorrelationID: requestID,
		TenantID:      tenantID,
		Payload:       payload,
	}
}

// ErrorPayload is the payload shape of a `type=error` envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
