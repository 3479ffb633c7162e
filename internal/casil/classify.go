package casil

import (
	"regexp"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
)

// Kind mirrors spec.md §3's CASIL classification kind enum.
type Kind string

const (
	KindControl   Kind = "control"
	KindTelemetry Kind = "telemetry"
	KindData      Kind = "data"
	KindSystem    Kind = "system"
)

// RiskLevel mirrors spec.md §3's CASIL classification risk_level enum.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Classification is the `(kind, risk_level, flags)` triple CASIL attaches
// to an envelope (spec.md §3).
type Classification struct {
	Kind       Kind
	RiskLevel  RiskLevel
	Flags      map[string]bool
	matchedPatterns []string
}

func kindForEnvelopeType(t protocol.Type) Kind {
	switch t {
	case protocol.TypeCommand, protocol.TypeResponse:
		return KindControl
	case protocol.TypeEvent:
		return KindSystem
	case protocol.TypeError:
		return KindSystem
	case protocol.TypeTelemetry:
		return KindTelemetry
	default:
		return KindData
	}
}

// classify inspects up to limits.MaxInspectBytes of payload and runs the
// compiled pattern set over the inspected slice to set flags. It never
// reads the clock, performs I/O, or uses randomness, satisfying the
// determinism requirement in spec.md §4.5.
func classify(env protocol.Envelope, payload []byte, patterns []*regexp.Regexp, limits LimitsConfig, maxPayloadBytes int64) Classification {
	c := Classification{
		Kind:      kindForEnvelopeType(env.Type),
		RiskLevel: RiskLow,
		Flags:     make(map[string]bool, 2),
	}

	if maxPayloadBytes > 0 && int64(len(payload)) > maxPayloadBytes {
		c.Flags["oversize_payload"] = true
		c.RiskLevel = RiskMedium
	}

	inspect := payload
	if limits.MaxInspectBytes > 0 && len(inspect) > limits.MaxInspectBytes {
		inspect = inspect[:limits.MaxInspectBytes]
	}

	for _, re := range patterns {
		if re.Match(inspect) {
			c.Flags["contains_probable_secret"] = true
			c.matchedPatterns = append(c.matchedPatterns, re.String())
			c.RiskLevel = RiskHigh
		}
	}

	return c
}
