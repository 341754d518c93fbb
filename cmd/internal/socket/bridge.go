package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"sync"

	"github.com/coder/websocket"
)

// Validator classifies one inbound frame. A nil error accepts the message;
// a non-nil error rejects the frame as a protocol violation.
type Validator[T any] func(Frame) (T, error)

// Serializer encodes one outbound message as a text payload.
type Serializer[T any] func(T) ([]byte, error)

// State is the Bridge lifecycle.
type State int32

const (
	Connecting State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options carries the collaborators of a Bridge. Every field is optional.
type Options struct {
	// ID labels log lines (e.g. a relay session id).
	ID      string
	Logger  *slog.Logger
	Dialer  Dialer
	Metrics *Metrics
}

// Bridge adapts one full-duplex transport into an ordered pull-based
// sequence of validated messages plus a Send/Close pair.
//
// A Bridge owns its transport exclusively and is never reopened: once it
// reaches Closed a new Bridge is needed for a new session.
type Bridge[In, Out any] struct {
	log       *slog.Logger
	metrics   *Metrics
	validate  Validator[In]
	serialize Serializer[Out]

	// connected is closed once the connect attempt settles either way.
	connected chan struct{}
	// done is closed once the Bridge reaches Closed and every waiter is drained.
	done chan struct{}

	mu             sync.Mutex
	state          State
	wasOpen        bool
	conn           Conn
	connectErr     error
	terminal       error
	closeRequested bool
	queue          dispatcher[In]
}

// New starts connecting in the background and returns immediately.
//
// ctx bounds the connect attempt only (Prepare plus the handshake). Once the
// Bridge is open, its lifetime is controlled by Close and by the peer.
func New[In, Out any](ctx context.Context, s Settings, v Validator[In], ser Serializer[Out], opts Options) *Bridge[In, Out] {
	if v == nil {
		panic("socket: nil Validator")
	}
	if ser == nil {
		panic("socket: nil Serializer")
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if opts.ID != "" {
		log = log.With("bridge_id", opts.ID)
	}
	dial := opts.Dialer
	if dial == nil {
		dial = WebSocketDialer(0)
	}

	b := &Bridge[In, Out]{
		log:       log,
		metrics:   opts.Metrics,
		validate:  v,
		serialize: ser,
		connected: make(chan struct{}),
		done:      make(chan struct{}),
		state:     Connecting,
	}

	go b.run(ctx, s, dial)
	return b
}

// Connected is closed once the connect attempt has settled (open or failed).
func (b *Bridge[In, Out]) Connected() <-chan struct{} { return b.connected }

// Done is closed once the Bridge is Closed and all pending pulls are settled.
func (b *Bridge[In, Out]) Done() <-chan struct{} { return b.done }

// State returns the current lifecycle state.
func (b *Bridge[In, Out]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns the terminal error, if one was recorded.
func (b *Bridge[In, Out]) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.terminal
}

// Next returns the next message in arrival order.
//
// It returns io.EOF (unwrapped) once the stream has ended normally, and the
// terminal error while one is recorded and the transport has not closed yet.
// Concurrent callers are served in the order they started waiting. If ctx is
// done first, Next returns ctx.Err() and no message is lost.
func (b *Bridge[In, Out]) Next(ctx context.Context) (In, error) {
	var zero In

	b.mu.Lock()
	if b.state == Closed && b.wasOpen {
		b.mu.Unlock()
		return zero, io.EOF
	}
	if b.terminal != nil {
		err := b.terminal
		b.mu.Unlock()
		return zero, err
	}
	if b.state == Closed {
		b.mu.Unlock()
		return zero, io.EOF
	}
	if msg, ok := b.queue.pop(); ok {
		b.mu.Unlock()
		return msg, nil
	}
	w := b.queue.wait()
	b.mu.Unlock()

	select {
	case r := <-w.ch:
		return r.msg, r.err
	case <-ctx.Done():
		b.mu.Lock()
		removed := b.queue.cancel(w)
		b.mu.Unlock()
		if removed {
			return zero, ctx.Err()
		}
		// Already handed a result; it is on its way.
		r := <-w.ch
		return r.msg, r.err
	}
}

// Messages yields every message until the stream ends. A terminal error is
// yielded once as the last pair; normal end-of-stream yields nothing.
// The sequence can be ranged over only once per Bridge in practice: it
// shares the Bridge's single stream.
func (b *Bridge[In, Out]) Messages(ctx context.Context) iter.Seq2[In, error] {
	return func(yield func(In, error) bool) {
		for {
			msg, err := b.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				var zero In
				yield(zero, err)
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

// Send waits for the connect attempt, then serializes msg and writes it as
// one text frame. A failed Send does not change the Bridge state.
//
// Cancelling ctx while a write is in flight makes coder/websocket close the
// connection, which the Bridge then observes as a transport close.
func (b *Bridge[In, Out]) Send(ctx context.Context, msg Out) error {
	select {
	case <-b.connected:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.mu.Lock()
	connErr, term, state, conn := b.connectErr, b.terminal, b.state, b.conn
	b.mu.Unlock()

	switch {
	case connErr != nil:
		return connErr
	case term != nil:
		return term
	case state != Open:
		return ErrClosed
	}

	data, err := b.serialize(msg)
	if err != nil {
		b.metrics.frameOut(resultError)
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		b.metrics.frameOut(resultError)
		b.log.Debug("bridge.send.fail", "err", err)
		return fmt.Errorf("%w: %w", ErrSend, err)
	}
	b.metrics.frameOut(resultOK)
	return nil
}

// Close requests a normal close and waits until the Bridge is Closed.
//
// It waits for the connect attempt first and returns its error if that
// failed. Calling Close again after the Bridge closed returns nil at once.
// A Close racing another one never issues a second transport close.
func (b *Bridge[In, Out]) Close(ctx context.Context) error {
	select {
	case <-b.connected:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.mu.Lock()
	if b.connectErr != nil {
		err := b.connectErr
		b.mu.Unlock()
		return err
	}
	if b.state == Closed {
		b.mu.Unlock()
		return nil
	}
	first := b.requestCloseLocked()
	b.mu.Unlock()

	if first {
		go b.closeTransport(websocket.StatusNormalClosure, "")
	}

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- lifecycle ----

func (b *Bridge[In, Out]) run(ctx context.Context, s Settings, dial Dialer) {
	conn, err := b.connect(ctx, s, dial)
	if err != nil {
		b.onConnectError(err)
		return
	}
	b.onOpen(conn)

	for {
		typ, data, err := conn.Read(context.Background())
		if err != nil {
			b.onReadError(err)
			return
		}
		b.onMessage(Frame{Type: typ, Data: data})
	}
}

func (b *Bridge[In, Out]) connect(ctx context.Context, s Settings, dial Dialer) (Conn, error) {
	prepared, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := dial(ctx, prepared)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errors.New("dialer returned no connection")
	}
	return conn, nil
}

func (b *Bridge[In, Out]) onOpen(conn Conn) {
	b.mu.Lock()
	b.conn = conn
	b.state = Open
	b.wasOpen = true
	b.mu.Unlock()

	close(b.connected)
	b.metrics.connection(resultOK)
	b.log.Info("bridge.open")
}

func (b *Bridge[In, Out]) onConnectError(cause error) {
	err := fmt.Errorf("%w: %w", ErrConnect, cause)

	b.mu.Lock()
	b.connectErr = err
	b.setTerminalLocked(err)
	b.state = Closed
	waiters := b.queue.drain()
	b.mu.Unlock()

	close(b.connected)
	for _, w := range waiters {
		w.reject(err)
	}
	b.metrics.connection(resultError)
	close(b.done)

	b.log.Error("bridge.connect.fail", "err", cause)
}

func (b *Bridge[In, Out]) onMessage(f Frame) {
	b.mu.Lock()
	stopped := b.state == Closed || b.terminal != nil
	b.mu.Unlock()
	if stopped {
		b.log.Debug("bridge.frame.dropped", "bytes", len(f.Data))
		return
	}

	msg, err := b.validate(f)
	if err != nil {
		b.onProtocolViolation(err)
		return
	}

	b.mu.Lock()
	w := b.queue.push(msg)
	b.mu.Unlock()

	if w != nil {
		w.resolve(msg)
	}
	b.metrics.frameIn(resultOK)
}

func (b *Bridge[In, Out]) onProtocolViolation(cause error) {
	err := fmt.Errorf("%w: %w", ErrProtocolViolation, cause)

	b.mu.Lock()
	term := b.setTerminalLocked(err)
	waiters := b.queue.drain()
	first := b.requestCloseLocked()
	b.mu.Unlock()

	for _, w := range waiters {
		w.reject(term)
	}

	b.metrics.frameIn(resultRejected)
	b.log.Info("bridge.frame.rejected", "err", cause)

	if first {
		go b.closeTransport(websocket.StatusNormalClosure, closeReasonUnexpected)
	}
}

// onError records a post-open transport failure. It fails pending pulls
// but leaves closing to the transport.
func (b *Bridge[In, Out]) onError(cause error) {
	err := fmt.Errorf("%w: %w", ErrTransport, cause)

	b.mu.Lock()
	term := b.setTerminalLocked(err)
	waiters := b.queue.drain()
	b.mu.Unlock()

	for _, w := range waiters {
		w.reject(term)
	}

	b.metrics.transportError()
	b.log.Error("bridge.transport.error", "err", cause)
}

func (b *Bridge[In, Out]) onClose(cause error) {
	b.mu.Lock()
	if b.state == Closed {
		b.mu.Unlock()
		return
	}
	b.state = Closed
	dropped := b.queue.discard()
	waiters := b.queue.drain()
	term := b.terminal
	b.mu.Unlock()

	for _, w := range waiters {
		w.settle(term)
	}
	b.metrics.closed()
	close(b.done)

	b.log.Info("bridge.close",
		"close_status", int(websocket.CloseStatus(cause)),
		"dropped", dropped,
		"terminal", term != nil,
	)
}

// onReadError routes the error that ended the read loop. A peer close, or
// any failure after we asked to close, is a close. Anything else is a
// transport error first; the dead connection cannot deliver a later close.
func (b *Bridge[In, Out]) onReadError(err error) {
	b.mu.Lock()
	requested := b.closeRequested
	b.mu.Unlock()

	if requested || isCloseErr(err) {
		b.onClose(err)
		return
	}
	b.onError(err)
	b.onClose(err)
}

// ---- helpers (callers hold mu) ----

func (b *Bridge[In, Out]) setTerminalLocked(err error) error {
	if b.terminal == nil {
		b.terminal = err
	}
	return b.terminal
}

// requestCloseLocked reports whether this call is the one that should issue
// the transport close.
func (b *Bridge[In, Out]) requestCloseLocked() bool {
	if b.closeRequested || b.state != Open {
		return false
	}
	b.closeRequested = true
	b.state = Closing
	return true
}

func (b *Bridge[In, Out]) closeTransport(code websocket.StatusCode, reason string) {
	if err := b.conn.Close(code, reason); err != nil {
		b.log.Debug("bridge.close.transport", "err", err)
	}
}

func isCloseErr(err error) bool {
	return websocket.CloseStatus(err) != -1
}
