package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validEnvelopeJSON(t *testing.T, mutate func(e *Envelope)) []byte {
	t.Helper()
	env := Envelope{
		ID:         "arq_msg_001",
		Type:       TypeMessage,
		Version:    Version,
		Timestamp:  time.Now().UTC(),
		FromClient: "arq_client_alice",
		ToClient:   "arq_client_bob",
		Payload:    json.RawMessage(`{"content":"hi"}`),
	}
	if mutate != nil {
		mutate(&env)
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func alicePrincipal() Principal {
	return Principal{TenantID: "t1", ClientID: "arq_client_alice", Roles: []Role{RoleUser}}
}

func TestValidate_Accepts(t *testing.T) {
	raw := validEnvelopeJSON(t, nil)
	env, err := Validate(raw, alicePrincipal(), DefaultValidationConfig(), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, "t1", env.TenantID)
}

func TestValidate_IsDeterministicAndIdempotent(t *testing.T) {
	raw := validEnvelopeJSON(t, nil)
	now := time.Now().UTC()
	cfg := DefaultValidationConfig()
	principal := alicePrincipal()

	env1, err1 := Validate(raw, principal, cfg, now)
	env2, err2 := Validate(raw, principal, cfg, now)
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.Equal(t, env1, env2)
}

func TestValidate_DecodeError(t *testing.T) {
	_, err := Validate([]byte("not json"), alicePrincipal(), DefaultValidationConfig(), time.Now().UTC())
	requireCode(t, err, CodeDecodeError)
}

func TestValidate_SchemaError_MissingTarget(t *testing.T) {
	raw := validEnvelopeJSON(t, func(e *Envelope) { e.ToClient = "" })
	_, err := Validate(raw, alicePrincipal(), DefaultValidationConfig(), time.Now().UTC())
	requireCode(t, err, CodeSchemaError)
}

func TestValidate_IDFormatError(t *testing.T) {
	raw := validEnvelopeJSON(t, func(e *Envelope) { e.ID = "!!!bad id" })
	_, err := Validate(raw, alicePrincipal(), DefaultValidationConfig(), time.Now().UTC())
	requireCode(t, err, CodeIDFormatError)
}

func TestValidate_TimestampOutsideSkew(t *testing.T) {
	raw := validEnvelopeJSON(t, func(e *Envelope) { e.Timestamp = time.Now().Add(-time.Hour) })
	_, err := Validate(raw, alicePrincipal(), DefaultValidationConfig(), time.Now().UTC())
	requireCode(t, err, CodeTimestampError)
}

func TestValidate_TargetError_BothDirectAndRoom(t *testing.T) {
	raw := validEnvelopeJSON(t, func(e *Envelope) { e.Room = "ops" })
	_, err := Validate(raw, alicePrincipal(), DefaultValidationConfig(), time.Now().UTC())
	requireCode(t, err, CodeTargetError)
}

func TestValidate_RoomAndChannelTogetherIsSingleTarget(t *testing.T) {
	raw := validEnvelopeJSON(t, func(e *Envelope) {
		e.ToClient = ""
		e.Room = "ops"
		e.Channel = "general"
	})
	_, err := Validate(raw, alicePrincipal(), DefaultValidationConfig(), time.Now().UTC())
	require.NoError(t, err)
}

func TestValidate_IdentityMismatch(t *testing.T) {
	raw := validEnvelopeJSON(t, func(e *Envelope) { e.FromClient = "arq_client_mallory" })
	_, err := Validate(raw, alicePrincipal(), DefaultValidationConfig(), time.Now().UTC())
	requireCode(t, err, CodeIdentityMismatch)
}

func TestValidate_AdminMayOverrideIdentity(t *testing.T) {
	raw := validEnvelopeJSON(t, func(e *Envelope) { e.FromClient = "arq_client_mallory" })
	admin := Principal{TenantID: "t1", ClientID: "arq_client_admin", Roles: []Role{RoleAdmin}}
	_, err := Validate(raw, admin, DefaultValidationConfig(), time.Now().UTC())
	require.NoError(t, err)
}

func TestValidate_TenantMismatch(t *testing.T) {
	raw := validEnvelopeJSON(t, func(e *Envelope) { e.TenantID = "t2" })
	_, err := Validate(raw, alicePrincipal(), DefaultValidationConfig(), time.Now().UTC())
	requireCode(t, err, CodeTenantMismatch)
}

func TestValidate_Oversize(t *testing.T) {
	raw := validEnvelopeJSON(t, nil)
	cfg := DefaultValidationConfig()
	cfg.MaxPayloadBytes = 4
	_, err := Validate(raw, alicePrincipal(), cfg, time.Now().UTC())
	requireCode(t, err, CodeOversize)
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, code, ve.Code)
}
