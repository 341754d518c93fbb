package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeConn is an in-memory Conn. Frames are handed to Read one at a time
// through an unbuffered channel, so push returns only once Read took it.
type fakeConn struct {
	frames  chan Frame
	readErr chan error
	closed  chan struct{}

	// holdClose keeps Close from completing until release is called,
	// which models a peer that is slow to answer the close handshake.
	holdClose bool

	mu          sync.Mutex
	closeOnce   sync.Once
	closeCalls  int
	closeCode   websocket.StatusCode
	closeReason string
	writes      []Frame
	writeErr    error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames:  make(chan Frame),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case f := <-c.frames:
		return f.Type, f.Data, nil
	case err := <-c.readErr:
		return 0, nil, err
	case <-c.closed:
		c.mu.Lock()
		code := c.closeCode
		c.mu.Unlock()
		return 0, nil, websocket.CloseError{Code: code}
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, typ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.writes = append(c.writes, Frame{Type: typ, Data: append([]byte(nil), p...)})
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	c.mu.Lock()
	c.closeCalls++
	if c.closeCalls == 1 {
		c.closeCode = code
		c.closeReason = reason
	}
	hold := c.holdClose
	c.mu.Unlock()

	if !hold {
		c.release()
	}
	return nil
}

// release completes the close handshake.
func (c *fakeConn) release() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// peerClose simulates the peer sending a close frame.
func (c *fakeConn) peerClose(code websocket.StatusCode) {
	c.mu.Lock()
	c.closeCode = code
	c.mu.Unlock()
	c.release()
}

func (c *fakeConn) push(t *testing.T, typ websocket.MessageType, data string) {
	t.Helper()
	select {
	case c.frames <- Frame{Type: typ, Data: []byte(data)}:
	case <-time.After(2 * time.Second):
		t.Fatalf("frame not consumed: %s", data)
	}
}

func (c *fakeConn) text(t *testing.T, data string) {
	t.Helper()
	c.push(t, websocket.MessageText, data)
}

func (c *fakeConn) calls() (int, websocket.StatusCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls, c.closeCode, c.closeReason
}

func (c *fakeConn) written() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.writes...)
}

// ---- test policies ----

type testMsg struct {
	Type string `json:"type"`
	N    int    `json:"n,omitempty"`
}

func testValidate(f Frame) (testMsg, error) {
	if !f.IsText() {
		return testMsg{}, errors.New("invalid message type")
	}
	var m testMsg
	if err := json.Unmarshal(f.Data, &m); err != nil {
		return testMsg{}, fmt.Errorf("invalid JSON message: %w", err)
	}
	switch m.Type {
	case "session.created", "msg":
		return m, nil
	default:
		return testMsg{}, fmt.Errorf("unknown message type: %q", m.Type)
	}
}

func testSerialize(m testMsg) ([]byte, error) {
	if m.Type == "" {
		return nil, errors.New("missing type")
	}
	return json.Marshal(m)
}

// ---- harness ----

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func testSettings() Settings { return Settings{URL: "wss://example.test/realtime"} }

func dialTo(conn Conn) Dialer {
	return func(context.Context, Settings) (Conn, error) { return conn, nil }
}

func newTestBridge(t *testing.T, conn *fakeConn) *Bridge[testMsg, testMsg] {
	t.Helper()
	b := New(context.Background(), testSettings(), testValidate, testSerialize, Options{
		Logger: testLogger(),
		Dialer: dialTo(conn),
	})
	waitConnected(t, b)
	return b
}

func waitConnected(t *testing.T, b *Bridge[testMsg, testMsg]) {
	t.Helper()
	select {
	case <-b.Connected():
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge did not connect")
	}
}

func waitDone(t *testing.T, b *Bridge[testMsg, testMsg]) {
	t.Helper()
	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge did not close")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (b *Bridge[In, Out]) waitingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.waiting()
}

func (b *Bridge[In, Out]) bufferedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.buffered()
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}
