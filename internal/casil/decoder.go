package casil

import "encoding/json"

// Decoder is the pluggable structured-payload decoder spec.md §9's
// re-architecture note calls for: field-path redaction needs a parsed
// view of the payload, but the payload's shape is caller-defined.
// Unknown or undecodable shapes fall back to pattern-only redaction.
type Decoder interface {
	// Decode parses raw into a generic tree of map[string]any / []any /
	// scalar values, or returns an error if raw isn't decodable.
	Decode(raw []byte) (any, error)
	// Encode serializes a decoded (and possibly redacted) tree back to
	// bytes in the same family of encoding Decode accepts.
	Encode(v any) ([]byte, error)
}

// JSONDecoder is the default Decoder, covering the envelope payload
// encoding ArqonBus ships in v1 (protocol.JSONCodec).
type JSONDecoder struct{}

func (JSONDecoder) Decode(raw []byte) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (JSONDecoder) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
