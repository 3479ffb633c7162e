package casil

import (
	"log/slog"
	"regexp"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/novelbytelabs/arqonbus/internal/telemetry"
)

// Decision is CASIL's outcome verdict, a closed set per spec.md §3.
type Decision string

const (
	DecisionAllow              Decision = "allow"
	DecisionAllowWithRedaction Decision = "allow_with_redaction"
	DecisionBlock              Decision = "block"
)

// ReasonCode is the closed set of CASIL reason codes, per spec.md §4.5/§6.
type ReasonCode string

const (
	ReasonDisabled        ReasonCode = "CASIL_DISABLED"
	ReasonOutOfScope      ReasonCode = "CASIL_OUT_OF_SCOPE"
	ReasonPolicyOversize  ReasonCode = "CASIL_POLICY_OVERSIZE"
	ReasonPolicyBlockedSecret ReasonCode = "CASIL_POLICY_BLOCKED_SECRET"
	ReasonPolicyRedacted  ReasonCode = "CASIL_POLICY_REDACTED"
	ReasonPolicyAllowed   ReasonCode = "CASIL_POLICY_ALLOWED"
	ReasonMonitorMode     ReasonCode = "CASIL_MONITOR_MODE"
	ReasonInternalError   ReasonCode = "CASIL_INTERNAL_ERROR"
)

// Outcome is the `(decision, reason_code, classification, redacted_payload?,
// metadata?)` tuple CASIL emits for every inspected envelope (spec.md §3).
type Outcome struct {
	Decision        Decision
	ReasonCode      ReasonCode
	Classification  Classification
	RedactedPayload []byte
}

// Engine runs the CASIL pipeline described in spec.md §4.5 against an
// immutable, config-load-time Config. It holds no per-envelope mutable
// state, keeping Evaluate deterministic and side-effect free on the hot
// path except for the injected Sink, which is itself non-blocking, and the
// injected logger when outcomes are configured to go to logs.
type Engine struct {
	cfg      Config
	patterns []*regexp.Regexp
	decoder  Decoder
	sink     Sink
	log      *slog.Logger
}

// New compiles cfg's pattern set and constructs an Engine. An engine
// should be built once at startup; Config is immutable for the process
// lifetime (reloads require a restart, per spec.md §6).
func New(cfg Config, decoder Decoder, sink Sink, log *slog.Logger) (*Engine, error) {
	patterns, err := compiledPatterns(cfg.Policies.Redaction.Patterns, cfg.Limits.MaxPatterns)
	if err != nil {
		return nil, err
	}
	if decoder == nil {
		decoder = JSONDecoder{}
	}
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{cfg: cfg, patterns: patterns, decoder: decoder, sink: sink, log: log}, nil
}

// Evaluate runs the full CASIL pipeline against env's payload and returns
// an Outcome. It never panics on malformed payloads: decode failures just
// mean field-path redaction is skipped in favor of pattern-only redaction.
func (e *Engine) Evaluate(env protocol.Envelope) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = e.internalErrorOutcome()
			emitOutcome(e.sink, e.log, e.cfg.Metadata, OutcomeEvent{
				EnvelopeID: env.ID,
				TenantID:   env.TenantID,
				ScopeKey:   scopeKey(env.Room, env.Channel, env.ToClient),
				Decision:   outcome.Decision,
				ReasonCode: outcome.ReasonCode,
			})
		}
	}()

	if !e.cfg.Enabled {
		return Outcome{Decision: DecisionAllow, ReasonCode: ReasonDisabled}
	}

	key := scopeKey(env.Room, env.Channel, env.ToClient)
	if !inScope(key, e.cfg.Scope) {
		return Outcome{Decision: DecisionAllow, ReasonCode: ReasonOutOfScope}
	}

	classification := classify(env, env.Payload, e.patterns, e.cfg.Limits, e.cfg.Policies.MaxPayloadBytes)
	outcome = e.decide(env, classification)

	emitOutcome(e.sink, e.log, e.cfg.Metadata, OutcomeEvent{
		EnvelopeID:     env.ID,
		TenantID:       env.TenantID,
		ScopeKey:       key,
		Decision:       outcome.Decision,
		ReasonCode:     outcome.ReasonCode,
		Classification: classification,
	})
	return outcome
}

// Annotate stamps env.Metadata with the outcome's decision and reason code
// when metadata.to_envelope is enabled. It is a no-op otherwise, and only
// meaningful for envelopes that still get routed (callers skip it for
// blocked envelopes, which never reach routing).
func (e *Engine) Annotate(env *protocol.Envelope, outcome Outcome) {
	if !e.cfg.Metadata.ToEnvelope {
		return
	}
	if env.Metadata == nil {
		env.Metadata = make(map[string]string, 2)
	}
	env.Metadata["casil_decision"] = string(outcome.Decision)
	env.Metadata["casil_reason_code"] = string(outcome.ReasonCode)
}

func (e *Engine) decide(env protocol.Envelope, c Classification) Outcome {
	policies := e.cfg.Policies

	if c.Flags["oversize_payload"] {
		return e.applyMonitorDowngrade(Outcome{Decision: DecisionBlock, ReasonCode: ReasonPolicyOversize, Classification: c})
	}
	if c.Flags["contains_probable_secret"] && policies.BlockOnProbableSecret {
		return e.applyMonitorDowngrade(Outcome{Decision: DecisionBlock, ReasonCode: ReasonPolicyBlockedSecret, Classification: c})
	}

	if redacted, redactedAny := e.tryRedact(env); redactedAny && policies.Redaction.TransportRedaction {
		return Outcome{Decision: DecisionAllowWithRedaction, ReasonCode: ReasonPolicyRedacted, Classification: c, RedactedPayload: redacted}
	}

	return Outcome{Decision: DecisionAllow, ReasonCode: ReasonPolicyAllowed, Classification: c}
}

// applyMonitorDowngrade implements spec.md §4.5 step 4's final clause: in
// mode=monitor, every block outcome downgrades to allow with
// CASIL_MONITOR_MODE, while classification is preserved for telemetry/logs.
func (e *Engine) applyMonitorDowngrade(blocked Outcome) Outcome {
	if e.cfg.Mode != ModeMonitor {
		return blocked
	}
	return Outcome{Decision: DecisionAllow, ReasonCode: ReasonMonitorMode, Classification: blocked.Classification}
}

// tryRedact attempts field-path redaction via the pluggable Decoder, then
// always applies pattern redaction as a second pass (catches values the
// decoder didn't reach, or payloads that don't decode at all).
func (e *Engine) tryRedact(env protocol.Envelope) (redacted []byte, changed bool) {
	paths := e.cfg.Policies.Redaction.Paths
	raw := env.Payload

	if len(paths) > 0 {
		if tree, err := e.decoder.Decode(raw); err == nil {
			redactedTree := redactFieldPaths(tree, paths)
			if out, err := e.decoder.Encode(redactedTree); err == nil {
				raw = out
			}
		}
	}

	patterned := redactPatterns(raw, e.patterns)
	if string(patterned) != string(env.Payload) {
		return patterned, true
	}
	return env.Payload, false
}

func (e *Engine) internalErrorOutcome() Outcome {
	decision := DecisionAllow
	if e.cfg.DefaultDecision == DefaultBlock {
		decision = DecisionBlock
	}
	return Outcome{Decision: decision, ReasonCode: ReasonInternalError}
}
