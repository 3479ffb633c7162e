package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/novelbytelabs/arqonbus/internal/casil"
	"github.com/novelbytelabs/arqonbus/internal/command"
	"github.com/novelbytelabs/arqonbus/internal/history"
	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/novelbytelabs/arqonbus/internal/registry"
	"github.com/novelbytelabs/arqonbus/internal/rooms"
	"github.com/novelbytelabs/arqonbus/internal/router"
	"github.com/novelbytelabs/arqonbus/internal/telemetry"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type harness struct {
	srv *httptest.Server
	reg *registry.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := testLogger()
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())

	reg := registry.New(log, registry.DefaultConfig(), metrics)
	roomStore := rooms.New(log)
	rt := router.New(log, reg, roomStore, metrics, router.DefaultConfig())
	t.Cleanup(rt.Stop)

	engine, err := casil.New(casil.DefaultConfig(), casil.JSONDecoder{}, telemetry.NopSink{}, log)
	require.NoError(t, err)

	hist := history.NewMemoryRing(0, history.DropOldest)
	recorder := history.NewRecorder(hist, history.DefaultRecorderConfig())

	exec := command.New(log, reg, roomStore, rt, hist)

	gw := New(log, DefaultConfig(), NewHeaderAuthenticator(), reg, roomStore, rt, engine, recorder, exec, metrics)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &harness{srv: srv, reg: reg}
}

func (h *harness) dial(t *testing.T, ctx context.Context, tenantID, clientID string, roles string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("X-Arqonbus-Tenant-Id", tenantID)
	header.Set("X-Arqonbus-Client-Id", clientID)
	header.Set("X-Arqonbus-Roles", roles)

	url := "ws" + h.srv.URL[len("http"):] + "/ws"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
		HTTPHeader:   header,
	})
	require.NoError(t, err)
	return conn
}

func readOne(t *testing.T, ctx context.Context, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeOne(t *testing.T, ctx context.Context, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, b))
}

func TestGateway_CommandRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := h.dial(t, ctx, "tenant-a", "arq_client_alice", "user")
	defer conn.Close(websocket.StatusNormalClosure, "done")

	now := time.Now().UTC()
	writeOne(t, ctx, conn, protocol.Envelope{
		ID:         "req-1",
		Type:       protocol.TypeCommand,
		Version:    protocol.Version,
		Timestamp:  now,
		FromClient: "arq_client_alice",
		TenantID:   "tenant-a",
		Command:    "ping",
	})

	resp := readOne(t, ctx, conn)
	require.Equal(t, protocol.TypeResponse, resp.Type)
	require.Equal(t, "req-1", resp.CorrelationID)
}

func TestGateway_ValidationErrorReturnsErrorEnvelope(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := h.dial(t, ctx, "tenant-a", "arq_client_alice", "user")
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))

	resp := readOne(t, ctx, conn)
	require.Equal(t, protocol.TypeError, resp.Type)
	var errPayload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(resp.Payload, &errPayload))
	require.Equal(t, "DECODE_ERROR", errPayload.Code)
}

func TestGateway_MessageRoutesBetweenTwoClients(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	admin := h.dial(t, ctx, "tenant-a", "arq_client_admin", "admin")
	defer admin.Close(websocket.StatusNormalClosure, "done")
	alice := h.dial(t, ctx, "tenant-a", "arq_client_alice", "user")
	defer alice.Close(websocket.StatusNormalClosure, "done")

	now := time.Now().UTC()
	createArgs, err := json.Marshal(map[string]string{"room": "ops", "channel": "general"})
	require.NoError(t, err)
	writeOne(t, ctx, admin, protocol.Envelope{
		ID: "c1", Type: protocol.TypeCommand, Version: protocol.Version, Timestamp: now,
		FromClient: "arq_client_admin", TenantID: "tenant-a", Command: "create_channel", Args: createArgs,
	})
	require.Equal(t, protocol.TypeResponse, readOne(t, ctx, admin).Type)

	joinArgs, err := json.Marshal(map[string]string{"room": "ops", "channel": "general"})
	require.NoError(t, err)
	writeOne(t, ctx, alice, protocol.Envelope{
		ID: "c2", Type: protocol.TypeCommand, Version: protocol.Version, Timestamp: now,
		FromClient: "arq_client_alice", TenantID: "tenant-a", Command: "join_channel", Args: joinArgs,
	})
	// join_channel answers alice with a response and also routes a
	// channel.joined event (echo=true) to the channel's members, alice
	// included; the two reach her queue in either order.
	first, second := readOne(t, ctx, alice), readOne(t, ctx, alice)
	require.ElementsMatch(t, []protocol.Type{protocol.TypeResponse, protocol.TypeEvent}, []protocol.Type{first.Type, second.Type})

	writeOne(t, ctx, admin, protocol.Envelope{
		ID: "m1", Type: protocol.TypeMessage, Version: protocol.Version, Timestamp: time.Now().UTC(),
		FromClient: "arq_client_admin", TenantID: "tenant-a", Room: "ops", Channel: "general",
		Payload: json.RawMessage(`{"text":"hello"}`),
	})

	delivered := readOne(t, ctx, alice)
	require.Equal(t, protocol.TypeMessage, delivered.Type)
	require.Equal(t, "m1", delivered.ID)
}
