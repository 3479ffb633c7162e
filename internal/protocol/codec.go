package protocol

import "encoding/json"

// Codec selects the wire encoding family for an Envelope. spec.md §6
// describes two families sharing the same fields: a binary-structured
// format for high-volume internal traffic and a self-describing
// text-structured format for admin/human-facing clients. v1 ships the text
// family; Codec is the seam a binary implementation would plug into without
// touching the gateway or validator.
type Codec interface {
	Encode(Envelope) ([]byte, error)
	Decode([]byte) (Envelope, error)
}

// JSONCodec is the self-describing text-structured codec used for all v1
// traffic, including admin/human-facing clients.
type JSONCodec struct{}

func (JSONCodec) Encode(env Envelope) ([]byte, error) { return json.Marshal(env) }

func (JSONCodec) Decode(raw []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}

var _ Codec = JSONCodec{}
