package history

import (
	"context"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/casil"
	"github.com/novelbytelabs/arqonbus/internal/protocol"
)

// RecorderConfig resolves the two history-scoped open questions from
// spec.md §9.
type RecorderConfig struct {
	// PersistDirect resolves Open Question 4: direct messages (no room or
	// channel target) are not persisted by default.
	PersistDirect bool
	// Persist resolves Open Question 3: whether a CASIL-redacted envelope
	// persists in its original or redacted form.
	Persist PersistPolicy
}

// DefaultRecorderConfig returns the documented defaults: direct messages
// unpersisted, redacted envelopes persisted in original form.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{PersistDirect: false, Persist: OriginalOnly}
}

// Recorder is the seam between the CASIL outcome and the history store:
// it decides whether and in what form an envelope is persisted, per
// spec.md §3's history-entry rules ("Entries for envelopes that CASIL
// blocked are never persisted. Entries for envelopes CASIL redacted MAY
// persist the redacted form only if explicitly configured; otherwise the
// original.").
type Recorder struct {
	store Store
	cfg   RecorderConfig
}

// NewRecorder constructs a Recorder over store.
func NewRecorder(store Store, cfg RecorderConfig) *Recorder {
	return &Recorder{store: store, cfg: cfg}
}

// Record persists env according to outcome and the recorder's policy. It
// returns (0, nil), a no-op rather than an error, for envelopes that must
// never be persisted: CASIL blocks, and (absent PersistDirect) direct
// messages.
func (r *Recorder) Record(ctx context.Context, env protocol.Envelope, outcome casil.Outcome, now time.Time) (uint64, error) {
	if outcome.Decision == casil.DecisionBlock {
		return 0, nil
	}

	room, channel := env.Room, env.Channel
	isDirect := room == "" && channel == ""
	if isDirect && !r.cfg.PersistDirect {
		return 0, nil
	}
	if isDirect {
		channel = "direct:" + env.ToClient
	}

	toStore := env
	if outcome.Decision == casil.DecisionAllowWithRedaction && r.cfg.Persist == RedactedIfConfigured && outcome.RedactedPayload != nil {
		toStore.Payload = outcome.RedactedPayload
	}

	key := Key{TenantID: env.TenantID, Room: room, Channel: channel}
	return r.store.Append(ctx, key, toStore, now)
}
