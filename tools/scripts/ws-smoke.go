// Package main provides a CI-friendly WebSocket smoke test for ArqonBus.
//
// It validates:
//   - handshake + subprotocol selection
//   - admin command dispatch (create_channel)
//   - join_channel for two clients
//   - message fan-out from one channel member to another
//   - history.get containing the fanned-out message
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/novelbytelabs/arqonbus/internal/protocol"
	"github.com/novelbytelabs/arqonbus/internal/ws"
)

const (
	maxReadBytes = 1 << 20 // 1MiB

	defaultPerStepTimeout = 7 * time.Second

	defaultInboxSize = 512
)

type smokeClient struct {
	name     string
	clientID string
	conn     *websocket.Conn

	inbox chan protocol.Envelope
	errCh chan error

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	seq       int
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		tenant  = flag.String("tenant", "smoke-tenant", "Tenant ID both clients authenticate as")
		room    = flag.String("room", "dev-room", "Room to create and join")
		channel = flag.String("channel", "general", "Channel to create and join")
		text    = flag.String("text", "hello arqonbus", "Message text to send")
		timeout = flag.Duration("timeout", defaultPerStepTimeout, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *tenant, "arq_client_a", []string{"admin"}, *timeout)
	defer a.Close()

	b := mustConnect(root, "B", *wsURL, *origin, *tenant, "arq_client_b", []string{"user"}, *timeout)
	defer b.Close()

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.clientID, b.clientID, *origin)
	}

	mustDispatch(root, a, "create_channel", map[string]any{"room": *room, "channel": *channel}, *timeout, *verbose)

	mustDispatch(root, a, "join_channel", map[string]any{"room": *room, "channel": *channel}, *timeout, *verbose)
	mustDispatch(root, b, "join_channel", map[string]any{"room": *room, "channel": *channel}, *timeout, *verbose)

	mustSendMessage(root, a, *room, *channel, *text, *timeout)
	mustAssertMessage(root, b, *room, *channel, *text, *timeout, *verbose)

	// The sender does not receive its own fan-out unless it opts into echo.
	mustAssertNoType(root, a, protocol.TypeMessage, 750*time.Millisecond, *verbose)

	mustHistoryFetchContains(root, b, *room, *channel, *text, *timeout, *verbose)

	fmt.Printf("OK: A=%s B=%s room=%s channel=%s\n", a.clientID, b.clientID, *room, *channel)
}

// Close closes the client and stops the read loop (idempotent).
func (c *smokeClient) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
		}
	})
}

// ---- validation ----

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

// ---- connect ----

func mustConnect(parent context.Context, name, wsURL, origin, tenantID, clientID string, roles []string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("X-Arqonbus-Tenant-Id", tenantID)
	h.Set("X-Arqonbus-Client-Id", clientID)
	h.Set("X-Arqonbus-Roles", strings.Join(roles, ","))

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{ws.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, ws.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	readCtx, readCancel := context.WithCancel(context.Background())

	c := &smokeClient{
		name:     name,
		clientID: clientID,
		conn:     conn,
		inbox:    make(chan protocol.Envelope, defaultInboxSize),
		errCh:    make(chan error, 1),
		ctx:      readCtx,
		cancel:   readCancel,
	}
	c.startReadLoop()

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		// Some implementations may return nil response on success; best-effort skip.
		return
	}
	got := resp.Header.Get("Sec-WebSocket-Protocol")
	if strings.TrimSpace(want) == "" {
		return
	}
	if strings.TrimSpace(got) != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

// startReadLoop starts a background reader that pushes envelopes into inbox.
func (c *smokeClient) startReadLoop() {
	go func() {
		defer func() {
			select {
			case c.errCh <- errors.New("read loop ended"):
			default:
			}
		}()

		for {
			select {
			case <-c.ctx.Done():
				return
			default:
			}

			mt, data, err := c.conn.Read(c.ctx)
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				continue
			}

			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

func (c *smokeClient) nextID(label string) string {
	c.seq++
	return fmt.Sprintf("%s-%s-%d", c.name, label, c.seq)
}

// ---- protocol actions ----

func mustDispatch(parent context.Context, c *smokeClient, command string, args any, stepTimeout time.Duration, verbose bool) map[string]any {
	var body struct {
		Status  string         `json:"status"`
		Command string         `json:"command"`
		Result  map[string]any `json:"result"`
	}
	mustDispatchInto(parent, c, command, args, stepTimeout, verbose, &body)
	return body.Result
}

func mustDispatchSlice(parent context.Context, c *smokeClient, command string, args any, stepTimeout time.Duration, verbose bool) []any {
	var body struct {
		Status  string `json:"status"`
		Command string `json:"command"`
		Result  []any  `json:"result"`
	}
	mustDispatchInto(parent, c, command, args, stepTimeout, verbose, &body)
	return body.Result
}

func mustDispatchInto(parent context.Context, c *smokeClient, command string, args any, stepTimeout time.Duration, verbose bool, body any) {
	env := protocol.Envelope{
		ID:         c.nextID(command),
		Type:       protocol.TypeCommand,
		Version:    protocol.Version,
		Timestamp:  time.Now().UTC(),
		FromClient: c.clientID,
		Command:    command,
		Args:       mustJSON(args),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	resp := c.mustReadUntilCorrelated(parent, env.ID, stepTimeout, verbose)
	if resp.Type == protocol.TypeError {
		var p protocol.ErrorPayload
		_ = json.Unmarshal(resp.Payload, &p)
		fatalf("command %s failed (%s): code=%q msg=%q", command, c.name, p.Code, p.Message)
	}

	if err := json.Unmarshal(resp.Payload, body); err != nil {
		fatalf("unmarshal %s response (%s): %v", command, c.name, err)
	}
}

func mustSendMessage(parent context.Context, c *smokeClient, room, channel, text string, stepTimeout time.Duration) {
	env := protocol.Envelope{
		ID:         c.nextID("msg"),
		Type:       protocol.TypeMessage,
		Version:    protocol.Version,
		Timestamp:  time.Now().UTC(),
		FromClient: c.clientID,
		Room:       room,
		Channel:    channel,
		Payload:    mustJSON(map[string]string{"text": text}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustAssertMessage(parent context.Context, c *smokeClient, room, channel, wantText string, stepTimeout time.Duration, verbose bool) {
	env := c.mustReadUntilType(parent, protocol.TypeMessage, stepTimeout, verbose)

	if env.Room != room || env.Channel != channel {
		fatalf("message target mismatch (%s): got=%s:%s want=%s:%s", c.name, env.Room, env.Channel, room, channel)
	}

	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message payload (%s): %v", c.name, err)
	}
	if p.Text != wantText {
		fatalf("message text mismatch (%s): got=%q want=%q", c.name, p.Text, wantText)
	}
}

func mustHistoryFetchContains(parent context.Context, c *smokeClient, room, channel, wantText string, stepTimeout time.Duration, verbose bool) {
	// op.history.get's handler returns a bare []history.Entry as its
	// result, so the command response's "result" field is a JSON array of
	// {"Envelope": {...}, "StoredAt": ..., "SequenceNumber": ...} objects.
	entries := mustDispatchSlice(parent, c, "op.history.get", map[string]any{"room": room, "channel": channel, "limit": 50}, stepTimeout, verbose)

	found := false
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		env, ok := entry["Envelope"].(map[string]any)
		if !ok {
			continue
		}
		payload, ok := env["payload"].(map[string]any)
		if !ok {
			continue
		}
		if text, _ := payload["text"].(string); strings.Contains(text, wantText) {
			found = true
			break
		}
	}
	if !found {
		fatalf("history did not contain expected message text (%s): %q", c.name, wantText)
	}
}

// ---- assertions ----

func mustAssertNoType(parent context.Context, c *smokeClient, typ protocol.Type, dur time.Duration, verbose bool) {
	t := time.NewTimer(dur)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			return
		case <-parent.Done():
			fatalf("context done while asserting no type (%s): %v", c.name, parent.Err())
		case err := <-c.errCh:
			fatalf("read error while asserting no type (%s): %v", c.name, err)
		case env := <-c.inbox:
			if verbose {
				fmt.Fprintf(os.Stderr, "[%s] recv type=%s id=%s\n", c.name, env.Type, env.ID)
			}
			if env.Type == typ {
				fatalf("unexpected envelope type=%s (%s)", typ, c.name)
			}
		}
	}
}

// ---- IO helpers ----

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env protocol.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}

	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write: %v", err)
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, typ protocol.Type, stepTimeout time.Duration, verbose bool) protocol.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for type=%s (%s)", typ, c.name)
		case err := <-c.errCh:
			fatalf("read error (%s): %v", c.name, err)
		case env := <-c.inbox:
			if verbose {
				fmt.Fprintf(os.Stderr, "[%s] recv type=%s id=%s\n", c.name, env.Type, env.ID)
			}
			if env.Type == protocol.TypeError {
				var p protocol.ErrorPayload
				_ = json.Unmarshal(env.Payload, &p)
				fatalf("server error (%s): code=%q msg=%q", c.name, p.Code, p.Message)
			}
			if env.Type == typ {
				return env
			}
			// Ignore everything else.
		}
	}
}

// mustReadUntilCorrelated waits for the response (or error) envelope whose
// correlation_id matches a dispatched command's request id.
func (c *smokeClient) mustReadUntilCorrelated(parent context.Context, requestID string, stepTimeout time.Duration, verbose bool) protocol.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for response to %s (%s)", requestID, c.name)
		case err := <-c.errCh:
			fatalf("read error (%s): %v", c.name, err)
		case env := <-c.inbox:
			if verbose {
				fmt.Fprintf(os.Stderr, "[%s] recv type=%s id=%s correlation_id=%s\n", c.name, env.Type, env.ID, env.CorrelationID)
			}
			if (env.Type == protocol.TypeResponse || env.Type == protocol.TypeError) && env.CorrelationID == requestID {
				return env
			}
			// Ignore everything else (e.g. fan-out from another client).
		}
	}
}

// ---- misc helpers ----

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("json marshal: %v", err)
	}
	return b
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "ws-smoke: "+format+"\n", args...)
	os.Exit(1)
}
