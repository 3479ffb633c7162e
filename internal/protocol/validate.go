package protocol

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

// ValidationConfig configures the envelope validator. It is loaded once at
// startup into an immutable snapshot, per spec.md §6 ("config loader
// produces an immutable config snapshot at startup; reloads require a
// process restart in v1").
type ValidationConfig struct {
	// ClockSkew bounds how far Timestamp may drift from now, in either
	// direction. Default ±5 minutes per spec.md §4.1.
	ClockSkew time.Duration

	// MaxPayloadBytes is the hard transport size ceiling, distinct from
	// CASIL's soft inspection limit.
	MaxPayloadBytes int

	// IDPattern is the opaque-id grammar. Defaults to a generic
	// alphanumeric-with-separators grammar; deployments that want
	// ULID-only ids can tighten this.
	IDPattern *regexp.Regexp

	// AllowIdentityOverride lets admin principals send envelopes with a
	// from_client different than their own (spec.md §4.1 step 6).
	AllowIdentityOverride bool
}

var defaultIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// DefaultValidationConfig returns the documented defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		ClockSkew:             5 * time.Minute,
		MaxPayloadBytes:       256 * 1024,
		IDPattern:             defaultIDPattern,
		AllowIdentityOverride: true,
	}
}

// Validate runs the eight ordered validation rules from spec.md §4.1 and
// returns the validated, tenant-stamped envelope or a *ValidationError with
// a code from the closed set. now is threaded explicitly so validation stays
// deterministic and testable; the gateway supplies time.Now().UTC().
func Validate(raw []byte, principal Principal, cfg ValidationConfig, now time.Time) (Envelope, error) {
	// 1. Decode.
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, newValidationError(CodeDecodeError, "invalid envelope encoding: %v", err)
	}

	// 2. Required fields per type.
	if err := requireFields(env); err != nil {
		return Envelope{}, err
	}

	// 3. ID grammar.
	pattern := cfg.IDPattern
	if pattern == nil {
		pattern = defaultIDPattern
	}
	if !pattern.MatchString(env.ID) {
		return Envelope{}, newValidationError(CodeIDFormatError, "id %q does not match configured grammar", env.ID)
	}

	// 4. Clock skew.
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	if env.Timestamp.IsZero() {
		return Envelope{}, newValidationError(CodeTimestampError, "missing timestamp")
	}
	drift := now.Sub(env.Timestamp)
	if drift < 0 {
		drift = -drift
	}
	if drift > skew {
		return Envelope{}, newValidationError(CodeTimestampError, "timestamp %s outside skew window %s", env.Timestamp, skew)
	}

	// 5. Target consistency (data messages only; commands/responses/events
	// route through the command executor or are server-originated).
	if env.Type == TypeMessage {
		if err := requireSingleTarget(env); err != nil {
			return Envelope{}, err
		}
	}

	// 6. Identity match.
	if env.FromClient != principal.ClientID {
		if !(cfg.AllowIdentityOverride && principal.IsAdmin()) {
			return Envelope{}, newValidationError(CodeIdentityMismatch, "from_client %q does not match authenticated principal %q", env.FromClient, principal.ClientID)
		}
	}

	// 7. Tenant match (derive tenant_id from principal when absent).
	if env.TenantID == "" {
		env.TenantID = principal.TenantID
	} else if env.TenantID != principal.TenantID {
		return Envelope{}, newValidationError(CodeTenantMismatch, "tenant_id %q does not match principal tenant %q", env.TenantID, principal.TenantID)
	}

	// 8. Hard payload size ceiling.
	maxBytes := cfg.MaxPayloadBytes
	if maxBytes <= 0 {
		maxBytes = 256 * 1024
	}
	if len(env.Payload) > maxBytes {
		return Envelope{}, newValidationError(CodeOversize, "payload %d bytes exceeds hard limit %d", len(env.Payload), maxBytes)
	}

	return env, nil
}

func requireFields(env Envelope) error {
	if !env.Type.valid() {
		return newValidationError(CodeSchemaError, "unknown or missing type %q", env.Type)
	}
	if strings.TrimSpace(env.ID) == "" {
		return newValidationError(CodeSchemaError, "missing id")
	}
	if strings.TrimSpace(env.FromClient) == "" {
		return newValidationError(CodeSchemaError, "missing from_client")
	}

	switch env.Type {
	case TypeMessage:
		if env.ToClient == "" && env.Room == "" && env.Channel == "" {
			return newValidationError(CodeSchemaError, "message envelope requires at least one of to_client|room|channel")
		}
	case TypeCommand:
		if strings.TrimSpace(env.Command) == "" {
			return newValidationError(CodeSchemaError, "command envelope missing command field")
		}
	}
	return nil
}

// requireSingleTarget enforces the invariant "at most one target-set
// resolution path per envelope" from spec.md §3, and §4.1 step 5 ("exactly
// one of direct/room/channel primary target for data messages").
func requireSingleTarget(env Envelope) error {
	// room+channel together address a single target (a channel scoped by
	// its parent room), not two independent ones; only count it once.
	targets := 0
	if env.ToClient != "" {
		targets++
	}
	if env.Channel != "" || env.Room != "" {
		targets++
	}
	if targets != 1 {
		return newValidationError(CodeTargetError, "exactly one of to_client|(room[:channel]) must be set, got %d", targets)
	}
	return nil
}
