// Package casil implements the content-aware safety and inspection layer:
// a bounded, deterministic pipeline placed between envelope validation and
// routing/persistence that classifies, optionally redacts, and optionally
// blocks envelopes in flight.
package casil

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Mode selects enforce vs monitor behavior for block decisions.
type Mode string

const (
	ModeEnforce Mode = "enforce"
	ModeMonitor Mode = "monitor"
)

// DefaultDecision is the fallback outcome used when CASIL hits an internal
// error, per spec.md §4.5 step 5.
type DefaultDecision string

const (
	DefaultAllow DefaultDecision = "allow"
	DefaultBlock DefaultDecision = "block"
)

// ScopeConfig configures which room:channel keys CASIL inspects.
type ScopeConfig struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// LimitsConfig bounds CASIL's per-envelope inspection cost.
type LimitsConfig struct {
	MaxInspectBytes int `yaml:"max_inspect_bytes"`
	MaxPatterns     int `yaml:"max_patterns"`
}

// RedactionConfig configures field-path and pattern-based redaction.
type RedactionConfig struct {
	Paths              []string `yaml:"paths"`
	Patterns           []string `yaml:"patterns"`
	TransportRedaction bool     `yaml:"transport_redaction"`
	NeverLogPayloadFor []string `yaml:"never_log_payload_for"`
}

// PoliciesConfig configures the classification→decision mapping.
type PoliciesConfig struct {
	MaxPayloadBytes       int64           `yaml:"max_payload_bytes"`
	BlockOnProbableSecret bool            `yaml:"block_on_probable_secret"`
	Redaction             RedactionConfig `yaml:"redaction"`
}

// MetadataConfig controls which surfaces receive CASIL outcome metadata.
type MetadataConfig struct {
	ToLogs      bool `yaml:"to_logs"`
	ToTelemetry bool `yaml:"to_telemetry"`
	ToEnvelope  bool `yaml:"to_envelope"`
}

// Config is CASIL's immutable, config-load-time snapshot. Per spec.md §4.5,
// reloads require a process restart.
type Config struct {
	Enabled        bool            `yaml:"enabled"`
	Mode           Mode            `yaml:"mode"`
	DefaultDecision DefaultDecision `yaml:"default_decision"`
	Scope          ScopeConfig     `yaml:"scope"`
	Limits         LimitsConfig    `yaml:"limits"`
	Policies       PoliciesConfig  `yaml:"policies"`
	Metadata       MetadataConfig  `yaml:"metadata"`
}

// DefaultConfig returns a conservative, disabled-by-default configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		Mode:            ModeEnforce,
		DefaultDecision: DefaultAllow,
		Scope:           ScopeConfig{},
		Limits:          LimitsConfig{MaxInspectBytes: 65536, MaxPatterns: 32},
		Policies: PoliciesConfig{
			MaxPayloadBytes:       1 << 20,
			BlockOnProbableSecret: false,
			Redaction: RedactionConfig{
				Patterns:           DefaultSecretPatterns(),
				TransportRedaction: false,
			},
		},
		Metadata: MetadataConfig{ToLogs: true, ToTelemetry: true, ToEnvelope: false},
	}
}

// DefaultSecretPatterns returns the closed default set of secret-probable
// patterns: API-key-like tokens, AWS access key ids, Bearer tokens, and
// private-key PEM headers. Extendable via config, never via runtime
// registration, per spec.md §9's "closed set precompiled from config at
// startup" requirement.
func DefaultSecretPatterns() []string {
	return []string{
		`sk-[A-Za-z0-9]{10,}`,
		`AKIA[0-9A-Z]{16}`,
		`[Bb]earer\s+[A-Za-z0-9\-_.]{20,}`,
		`-----BEGIN [A-Z ]*PRIVATE KEY-----`,
	}
}

// LoadConfigFile reads and parses a YAML CASIL config file, applying
// DefaultConfig for any zero-valued limits left unset by the file.
func LoadConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("casil: read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("casil: parse config: %w", err)
	}
	if cfg.Limits.MaxInspectBytes <= 0 {
		cfg.Limits.MaxInspectBytes = DefaultConfig().Limits.MaxInspectBytes
	}
	if cfg.Limits.MaxPatterns <= 0 {
		cfg.Limits.MaxPatterns = DefaultConfig().Limits.MaxPatterns
	}
	return cfg, nil
}

// compiledPatterns precompiles up to MaxPatterns regexes from cfg. Go's
// regexp package is RE2-based and therefore non-backtracking by
// construction: pattern evaluation cost is linear in input size regardless
// of pattern shape, which is how this package satisfies spec.md §4.5's
// "catastrophic regex backtracking is prevented by construction"
// requirement, without needing a separate complexity-budget wrapper.
func compiledPatterns(patterns []string, maxPatterns int) ([]*regexp.Regexp, error) {
	if maxPatterns > 0 && len(patterns) > maxPatterns {
		patterns = patterns[:maxPatterns]
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("casil: compile pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
