package socket

import (
	"context"

	"github.com/coder/websocket"
)

const (
	// DefaultReadLimit bounds a single inbound frame. Realtime audio deltas are
	// large, so this is well above coder/websocket's 32 KiB default.
	DefaultReadLimit int64 = 1 << 20 // 1 MiB

	// closeReasonUnexpected is sent when a frame fails validation.
	closeReasonUnexpected = "unexpected message"
)

// Conn is the transport the Bridge owns for its whole lifetime.
// *websocket.Conn satisfies it; tests substitute an in-memory fake.
type Conn interface {
	// Read blocks for the next data frame.
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	// Write sends one frame. Safe for use alongside a concurrent Read.
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	// Close starts the close handshake. Calling it more than once is allowed.
	Close(code websocket.StatusCode, reason string) error
}

// Frame is one raw inbound frame handed to the Validator.
type Frame struct {
	Type websocket.MessageType
	Data []byte
}

// IsText reports whether the frame is a text frame.
func (f Frame) IsText() bool { return f.Type == websocket.MessageText }

// Dialer opens a transport for already-prepared settings.
type Dialer func(ctx context.Context, s Settings) (Conn, error)

// WebSocketDialer returns the production Dialer backed by coder/websocket.
// readLimit <= 0 selects DefaultReadLimit.
func WebSocketDialer(readLimit int64) Dialer {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	return func(ctx context.Context, s Settings) (Conn, error) {
		conn, resp, err := websocket.Dial(ctx, s.URL, &websocket.DialOptions{
			Subprotocols: s.Protocols,
			HTTPHeader:   s.Header,
		})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}

		conn.SetReadLimit(readLimit)
		return conn, nil
	}
}
