package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/coder/websocket"
)

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadFrame
)

// classifyWSReadErr sorts a websocket read failure into the handful of
// categories the gateway's read loop needs to react differently to.
func classifyWSReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	s := err.Error()
	if strings.Contains(s, "use of closed network connection") ||
		strings.Contains(s, "broken pipe") {
		return readErrConnClosed
	}
	if strings.Contains(s, "unexpected end of JSON input") ||
		strings.Contains(s, "invalid character") ||
		strings.Contains(s, "failed to unmarshal JSON") {
		return readErrBadFrame
	}
	return readErrUnknown
}
