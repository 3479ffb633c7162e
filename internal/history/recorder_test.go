package history

import (
	"context"
	"testing"
	"time"

	"github.com/novelbytelabs/arqonbus/internal/casil"
	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestRecorder_NeverPersistsBlockedEnvelopes(t *testing.T) {
	store := NewMemoryRing(0, DropOldest)
	rec := NewRecorder(store, DefaultRecorderConfig())

	env := protocol.Envelope{TenantID: "t1", Room: "ops", Channel: "general"}
	seq, err := rec.Record(context.Background(), env, casil.Outcome{Decision: casil.DecisionBlock}, time.Now().UTC())
	require.NoError(t, err)
	require.Zero(t, seq)

	entries, err := store.Get(context.Background(), Key{TenantID: "t1", Room: "ops", Channel: "general"}, 0, 0, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRecorder_DirectMessagesNotPersistedByDefault(t *testing.T) {
	store := NewMemoryRing(0, DropOldest)
	rec := NewRecorder(store, DefaultRecorderConfig())

	env := protocol.Envelope{TenantID: "t1", ToClient: "arq_client_bob"}
	seq, err := rec.Record(context.Background(), env, casil.Outcome{Decision: casil.DecisionAllow}, time.Now().UTC())
	require.NoError(t, err)
	require.Zero(t, seq)
}

func TestRecorder_DirectMessagesPersistedWhenConfigured(t *testing.T) {
	store := NewMemoryRing(0, DropOldest)
	rec := NewRecorder(store, RecorderConfig{PersistDirect: true, Persist: OriginalOnly})

	env := protocol.Envelope{TenantID: "t1", ToClient: "arq_client_bob"}
	seq, err := rec.Record(context.Background(), env, casil.Outcome{Decision: casil.DecisionAllow}, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)
}

func TestRecorder_PersistsOriginalByDefaultEvenWhenRedacted(t *testing.T) {
	store := NewMemoryRing(0, DropOldest)
	rec := NewRecorder(store, DefaultRecorderConfig())

	env := protocol.Envelope{TenantID: "t1", Room: "ops", Channel: "general", Payload: []byte(`{"api_key":"secret"}`)}
	outcome := casil.Outcome{Decision: casil.DecisionAllowWithRedaction, RedactedPayload: []byte(`{"api_key":"***REDACTED***"}`)}
	_, err := rec.Record(context.Background(), env, outcome, time.Now().UTC())
	require.NoError(t, err)

	entries, err := store.Get(context.Background(), Key{TenantID: "t1", Room: "ops", Channel: "general"}, 0, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.JSONEq(t, `{"api_key":"secret"}`, string(entries[0].Envelope.Payload))
}

func TestRecorder_PersistsRedactedWhenConfigured(t *testing.T) {
	store := NewMemoryRing(0, DropOldest)
	rec := NewRecorder(store, RecorderConfig{PersistDirect: false, Persist: RedactedIfConfigured})

	env := protocol.Envelope{TenantID: "t1", Room: "ops", Channel: "general", Payload: []byte(`{"api_key":"secret"}`)}
	outcome := casil.Outcome{Decision: casil.DecisionAllowWithRedaction, RedactedPayload: []byte(`{"api_key":"***REDACTED***"}`)}
	_, err := rec.Record(context.Background(), env, outcome, time.Now().UTC())
	require.NoError(t, err)

	entries, err := store.Get(context.Background(), Key{TenantID: "t1", Room: "ops", Channel: "general"}, 0, 0, 0)
	require.NoError(t, err)
	require.JSONEq(t, `{"api_key":"***REDACTED***"}`, string(entries[0].Envelope.Payload))
}
