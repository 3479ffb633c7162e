package casil

import (
	"log/slog"

	"github.com/novelbytelabs/arqonbus/internal/telemetry"
)

// OutcomeEvent is what CASIL emits to its telemetry sink for every
// inspected envelope, per spec.md §6 ("Telemetry sink: consumes structured
// CASIL outcomes and lifecycle events").
type OutcomeEvent struct {
	EnvelopeID     string
	TenantID       string
	ScopeKey       string
	Decision       Decision
	ReasonCode     ReasonCode
	Classification Classification
}

// Sink receives CASIL outcome events. It reuses the core telemetry.Sink
// contract (non-blocking, drop-on-full) rather than defining a parallel
// one, per §6's "MUST be non-blocking or the core will drop events
// silently" requirement.
type Sink = telemetry.Sink

func emitOutcome(sink Sink, log *slog.Logger, cfg MetadataConfig, ev OutcomeEvent) {
	if cfg.ToLogs && log != nil {
		log.Info("casil.outcome",
			"envelope_id", ev.EnvelopeID,
			"tenant_id", ev.TenantID,
			"scope_key", ev.ScopeKey,
			"decision", string(ev.Decision),
			"reason_code", string(ev.ReasonCode),
			"kind", string(ev.Classification.Kind),
			"risk_level", string(ev.Classification.RiskLevel),
		)
	}

	if sink == nil || !cfg.ToTelemetry {
		return
	}
	sink.Emit(telemetry.Event{
		Kind: "casil.outcome",
		Attrs: map[string]any{
			"envelope_id": ev.EnvelopeID,
			"tenant_id":   ev.TenantID,
			"scope_key":   ev.ScopeKey,
			"decision":    string(ev.Decision),
			"reason_code": string(ev.ReasonCode),
			"kind":        string(ev.Classification.Kind),
			"risk_level":  string(ev.Classification.RiskLevel),
			"flags":       ev.Classification.Flags,
		},
	})
}
