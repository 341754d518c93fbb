package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBridge_BufferedFramesPulledInOrder(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	const n = 5
	for i := range n {
		conn.text(t, fmt.Sprintf(`{"type":"msg","n":%d}`, i))
	}
	waitFor(t, "buffered frames", func() bool { return b.bufferedCount() == n })

	for i := range n {
		m, err := b.Next(testCtx(t))
		if err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
		if m.N != i {
			t.Fatalf("Next #%d got n=%d", i, m.N)
		}
	}
}

func TestBridge_WaitersServedInRegistrationOrder(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	const n = 4
	got := make([]int, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := b.Next(testCtx(t))
			if err != nil {
				t.Errorf("Next #%d: %v", i, err)
				return
			}
			got[i] = m.N
		}()
		// Register strictly one after another.
		waitFor(t, "waiter registration", func() bool { return b.waitingCount() == i+1 })
	}

	for i := range n {
		conn.text(t, fmt.Sprintf(`{"type":"msg","n":%d}`, i+100))
	}
	wg.Wait()

	for i := range n {
		if got[i] != i+100 {
			t.Fatalf("waiter #%d got=%d want=%d", i, got[i], i+100)
		}
	}
	if b.bufferedCount() != 0 || b.waitingCount() != 0 {
		t.Fatalf("queues not empty: buffered=%d waiting=%d", b.bufferedCount(), b.waitingCount())
	}
}

func TestBridge_PullAfterCloseAlwaysEOF(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	if err := b.Close(testCtx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i := range 3 {
		if _, err := b.Next(testCtx(t)); err != io.EOF {
			t.Fatalf("Next #%d after close: err=%v want=io.EOF", i, err)
		}
	}
	if got := b.State(); got != Closed {
		t.Fatalf("state=%v want=%v", got, Closed)
	}
}

func TestBridge_TerminalErrorIsStickyUntilClose(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.holdClose = true
	b := newTestBridge(t, conn)

	conn.text(t, `{"type":"not_a_real_type"}`)
	waitFor(t, "terminal error", func() bool { return b.Err() != nil })

	first := b.Err()
	for i := range 3 {
		_, err := b.Next(testCtx(t))
		if !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("Next #%d: err=%v want ErrProtocolViolation", i, err)
		}
		if err != first {
			t.Fatalf("Next #%d returned a different error: %v", i, err)
		}
	}
	if err := b.Send(testCtx(t), testMsg{Type: "msg"}); err != first {
		t.Fatalf("Send err=%v want terminal error", err)
	}
	if got := b.State(); got != Closing {
		t.Fatalf("state=%v want=%v", got, Closing)
	}

	conn.release()
	waitDone(t, b)

	if _, err := b.Next(testCtx(t)); err != io.EOF {
		t.Fatalf("Next after close: err=%v want=io.EOF", err)
	}
	if b.Err() != first {
		t.Fatalf("terminal error changed: %v", b.Err())
	}
}

func TestBridge_MalformedFrameFailsPendingPullAndClosesTransport(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		typ  websocket.MessageType
		data string
	}{
		{name: "unknown type", typ: websocket.MessageText, data: `{"type":"not_a_real_type"}`},
		{name: "binary frame", typ: websocket.MessageBinary, data: `{"type":"msg"}`},
		{name: "bad json", typ: websocket.MessageText, data: `{"type":`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			conn := newFakeConn()
			b := newTestBridge(t, conn)

			errCh := make(chan error, 1)
			go func() {
				_, err := b.Next(testCtx(t))
				errCh <- err
			}()
			waitFor(t, "pending pull", func() bool { return b.waitingCount() == 1 })

			conn.push(t, tc.typ, tc.data)

			select {
			case err := <-errCh:
				if !errors.Is(err, ErrProtocolViolation) {
					t.Fatalf("pending pull err=%v want ErrProtocolViolation", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("pending pull not failed")
			}

			waitDone(t, b)
			calls, code, reason := conn.calls()
			if calls != 1 || code != websocket.StatusNormalClosure || reason != "unexpected message" {
				t.Fatalf("close calls=%d code=%d reason=%q", calls, code, reason)
			}
			if _, err := b.Next(testCtx(t)); err != io.EOF {
				t.Fatalf("Next after close: err=%v want=io.EOF", err)
			}
		})
	}
}

func TestBridge_TransportErrorFailsPendingPull(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Next(testCtx(t))
		errCh <- err
	}()
	waitFor(t, "pending pull", func() bool { return b.waitingCount() == 1 })

	cause := errors.New("connection reset by peer")
	conn.readErr <- cause

	err := <-errCh
	if !errors.Is(err, ErrTransport) || !errors.Is(err, cause) {
		t.Fatalf("pending pull err=%v want ErrTransport wrapping cause", err)
	}

	waitDone(t, b)
	if calls, _, _ := conn.calls(); calls != 0 {
		t.Fatalf("transport error must not issue a close; calls=%d", calls)
	}
	if _, err := b.Next(testCtx(t)); err != io.EOF {
		t.Fatalf("Next after close: err=%v want=io.EOF", err)
	}
}

func TestBridge_SendBeforeOpenWaitsForConnect(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	gate := make(chan struct{})
	b := New(context.Background(), testSettings(), testValidate, testSerialize, Options{
		Logger: testLogger(),
		Dialer: func(ctx context.Context, _ Settings) (Conn, error) {
			select {
			case <-gate:
				return conn, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	if got := b.State(); got != Connecting {
		t.Fatalf("state=%v want=%v", got, Connecting)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- b.Send(testCtx(t), testMsg{Type: "msg", N: 7}) }()

	time.Sleep(20 * time.Millisecond)
	if n := len(conn.written()); n != 0 {
		t.Fatalf("frame written before open: %d", n)
	}

	close(gate)
	if err := <-errCh; err != nil {
		t.Fatalf("Send: %v", err)
	}

	w := conn.written()
	if len(w) != 1 {
		t.Fatalf("writes=%d want=1", len(w))
	}
	if !w[0].IsText() || string(w[0].Data) != `{"type":"msg","n":7}` {
		t.Fatalf("unexpected frame: type=%v data=%s", w[0].Type, w[0].Data)
	}
}

func TestBridge_SendFailureDoesNotChangeState(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	if err := b.Send(testCtx(t), testMsg{}); !errors.Is(err, ErrSend) {
		t.Fatalf("serializer failure: err=%v want ErrSend", err)
	}

	writeErr := errors.New("broken pipe")
	conn.mu.Lock()
	conn.writeErr = writeErr
	conn.mu.Unlock()

	err := b.Send(testCtx(t), testMsg{Type: "msg"})
	if !errors.Is(err, ErrSend) || !errors.Is(err, writeErr) {
		t.Fatalf("write failure: err=%v", err)
	}
	if b.State() != Open || b.Err() != nil {
		t.Fatalf("send failure leaked into bridge: state=%v err=%v", b.State(), b.Err())
	}

	conn.mu.Lock()
	conn.writeErr = nil
	conn.mu.Unlock()
	if err := b.Send(testCtx(t), testMsg{Type: "msg"}); err != nil {
		t.Fatalf("Send after failure: %v", err)
	}
}

func TestBridge_SendAfterCloseIsErrClosed(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	if err := b.Close(testCtx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Send(testCtx(t), testMsg{Type: "msg"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after close: err=%v want ErrClosed", err)
	}
}

func TestBridge_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	if err := b.Close(testCtx(t)); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := b.Close(testCtx(t)); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if calls, code, reason := conn.calls(); calls != 1 || code != websocket.StatusNormalClosure || reason != "" {
		t.Fatalf("close calls=%d code=%d reason=%q", calls, code, reason)
	}
}

func TestBridge_ConcurrentCloseIssuesOneTransportClose(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	conn.holdClose = true
	b := newTestBridge(t, conn)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.Close(testCtx(t))
		}()
	}

	waitFor(t, "closing", func() bool { return b.State() == Closing })
	conn.release()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	if calls, _, _ := conn.calls(); calls != 1 {
		t.Fatalf("close calls=%d want=1", calls)
	}
}

func TestBridge_CloseWithNoTrafficResolves(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	if err := b.Close(testCtx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-b.Done():
	default:
		t.Fatalf("Close returned before done")
	}
	if b.Err() != nil {
		t.Fatalf("unexpected terminal error: %v", b.Err())
	}
}

func TestBridge_CloseDrainsPendingPullsWithEOF(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	errCh := make(chan error, 2)
	for i := range 2 {
		go func() {
			_, err := b.Next(testCtx(t))
			errCh <- err
		}()
		waitFor(t, "pending pull", func() bool { return b.waitingCount() == i+1 })
	}

	conn.peerClose(websocket.StatusGoingAway)
	for range 2 {
		if err := <-errCh; err != io.EOF {
			t.Fatalf("pending pull err=%v want=io.EOF", err)
		}
	}
	waitDone(t, b)

	if err := b.Close(testCtx(t)); err != nil {
		t.Fatalf("Close after peer close: %v", err)
	}
	if calls, _, _ := conn.calls(); calls != 0 {
		t.Fatalf("close after peer close must not reach the transport; calls=%d", calls)
	}
}

func TestBridge_QueuedMessagesDiscardedOnClose(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	conn.text(t, `{"type":"msg","n":1}`)
	waitFor(t, "buffered frame", func() bool { return b.bufferedCount() == 1 })

	conn.peerClose(websocket.StatusNormalClosure)
	waitDone(t, b)

	if _, err := b.Next(testCtx(t)); err != io.EOF {
		t.Fatalf("Next err=%v want=io.EOF", err)
	}
	if b.Err() != nil {
		t.Fatalf("discarding queued messages is not an error: %v", b.Err())
	}
}

func TestBridge_SessionCreatedThenBogusThenEOF(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	type pull struct {
		msg testMsg
		err error
	}
	first := make(chan pull, 1)
	go func() {
		m, err := b.Next(testCtx(t))
		first <- pull{m, err}
	}()
	waitFor(t, "pull #1", func() bool { return b.waitingCount() == 1 })

	conn.text(t, `{"type":"session.created","session":{}}`)
	p := <-first
	if p.err != nil || p.msg.Type != "session.created" {
		t.Fatalf("pull #1: msg=%+v err=%v", p.msg, p.err)
	}

	second := make(chan error, 1)
	go func() {
		_, err := b.Next(testCtx(t))
		second <- err
	}()
	waitFor(t, "pull #2", func() bool { return b.waitingCount() == 1 })

	conn.text(t, `{"type":"bogus"}`)
	if err := <-second; !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("pull #2: err=%v want ErrProtocolViolation", err)
	}

	waitDone(t, b)
	if _, err := b.Next(testCtx(t)); err != io.EOF {
		t.Fatalf("pull #3: err=%v want=io.EOF", err)
	}
}

func TestBridge_ConnectFailure(t *testing.T) {
	t.Parallel()

	dialErr := errors.New("tls: handshake failure")
	b := New(context.Background(), testSettings(), testValidate, testSerialize, Options{
		Logger: testLogger(),
		Dialer: func(context.Context, Settings) (Conn, error) { return nil, dialErr },
	})
	waitDone(t, b)

	if !errors.Is(b.Err(), ErrConnect) || !errors.Is(b.Err(), dialErr) {
		t.Fatalf("terminal=%v want ErrConnect wrapping cause", b.Err())
	}
	if _, err := b.Next(testCtx(t)); !errors.Is(err, ErrConnect) {
		t.Fatalf("Next err=%v want ErrConnect", err)
	}
	if err := b.Send(testCtx(t), testMsg{Type: "msg"}); !errors.Is(err, ErrConnect) {
		t.Fatalf("Send err=%v want ErrConnect", err)
	}
	if err := b.Close(testCtx(t)); !errors.Is(err, ErrConnect) {
		t.Fatalf("Close err=%v want ErrConnect", err)
	}
	if got := b.State(); got != Closed {
		t.Fatalf("state=%v want=%v", got, Closed)
	}
}

func TestBridge_PullBeforeConnectFailureIsRejected(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	b := New(context.Background(), testSettings(), testValidate, testSerialize, Options{
		Logger: testLogger(),
		Dialer: func(context.Context, Settings) (Conn, error) {
			<-gate
			return nil, errors.New("refused")
		},
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Next(testCtx(t))
		errCh <- err
	}()
	waitFor(t, "pending pull", func() bool { return b.waitingCount() == 1 })

	close(gate)
	if err := <-errCh; !errors.Is(err, ErrConnect) {
		t.Fatalf("pending pull err=%v want ErrConnect", err)
	}
}

func TestBridge_ConnectContextBoundsDial(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	b := New(ctx, testSettings(), testValidate, testSerialize, Options{
		Logger: testLogger(),
		Dialer: func(ctx context.Context, _ Settings) (Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	cancel()
	waitDone(t, b)

	if !errors.Is(b.Err(), ErrConnect) || !errors.Is(b.Err(), context.Canceled) {
		t.Fatalf("terminal=%v", b.Err())
	}
}

func TestBridge_PrepareRunsOnceOnACopy(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	base := testSettings()
	base.Header = http.Header{"User-Agent": []string{"test"}}

	var prepareCalls int
	base.Prepare = func(_ context.Context, s Settings) (Settings, error) {
		prepareCalls++
		s.Header.Set("api-key", "secret")
		return s, nil
	}

	seen := make(chan Settings, 1)
	b := New(context.Background(), base, testValidate, testSerialize, Options{
		Logger: testLogger(),
		Dialer: func(_ context.Context, s Settings) (Conn, error) {
			seen <- s
			return conn, nil
		},
	})
	waitConnected(t, b)

	got := <-seen
	if got.Header.Get("api-key") != "secret" || got.Header.Get("User-Agent") != "test" {
		t.Fatalf("prepared headers=%v", got.Header)
	}
	if base.Header.Get("api-key") != "" {
		t.Fatalf("caller settings mutated: %v", base.Header)
	}
	if prepareCalls != 1 {
		t.Fatalf("prepare calls=%d want=1", prepareCalls)
	}
}

func TestBridge_PrepareFailureIsConnectError(t *testing.T) {
	t.Parallel()

	prepErr := errors.New("secret not found")
	s := testSettings()
	s.Prepare = func(context.Context, Settings) (Settings, error) { return Settings{}, prepErr }

	dialed := false
	b := New(context.Background(), s, testValidate, testSerialize, Options{
		Logger: testLogger(),
		Dialer: func(context.Context, Settings) (Conn, error) {
			dialed = true
			return nil, errors.New("unreachable")
		},
	})
	waitDone(t, b)

	if !errors.Is(b.Err(), ErrConnect) || !errors.Is(b.Err(), prepErr) {
		t.Fatalf("terminal=%v", b.Err())
	}
	if dialed {
		t.Fatalf("dialer called after prepare failed")
	}
}

func TestBridge_NextContextCancelKeepsMessage(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := b.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next err=%v want deadline", err)
	}
	if b.waitingCount() != 0 {
		t.Fatalf("cancelled waiter still registered")
	}

	conn.text(t, `{"type":"msg","n":9}`)
	m, err := b.Next(testCtx(t))
	if err != nil || m.N != 9 {
		t.Fatalf("Next: msg=%+v err=%v", m, err)
	}
}

func TestBridge_MessagesIterator(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	go func() {
		for i := range 3 {
			conn.text(t, fmt.Sprintf(`{"type":"msg","n":%d}`, i))
		}
		conn.peerClose(websocket.StatusNormalClosure)
	}()

	var got []int
	for m, err := range b.Messages(testCtx(t)) {
		if err != nil {
			t.Fatalf("Messages: %v", err)
		}
		got = append(got, m.N)
	}
	if len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("got=%v", got)
	}
}

func TestBridge_MessagesYieldsTerminalErrorOnce(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	b := newTestBridge(t, conn)

	go func() { conn.readErr <- io.ErrUnexpectedEOF }()

	var errs []error
	for _, err := range b.Messages(testCtx(t)) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	// The stream may already be closed by the time the iterator pulls; an
	// error, if yielded, must be the transport error and appear once.
	if len(errs) > 1 {
		t.Fatalf("errors yielded=%d", len(errs))
	}
	if len(errs) == 1 && !errors.Is(errs[0], ErrTransport) {
		t.Fatalf("err=%v want ErrTransport", errs[0])
	}
	if !errors.Is(b.Err(), io.ErrUnexpectedEOF) {
		t.Fatalf("terminal=%v", b.Err())
	}
}

func TestBridge_Metrics(t *testing.T) {
	t.Parallel()

	m := NewMetrics(nil)
	conn := newFakeConn()
	b := New(context.Background(), testSettings(), testValidate, testSerialize, Options{
		Logger:  testLogger(),
		Dialer:  dialTo(conn),
		Metrics: m,
	})
	waitConnected(t, b)

	if got := testutil.ToFloat64(m.active); got != 1 {
		t.Fatalf("active=%v want=1", got)
	}

	conn.text(t, `{"type":"msg"}`)
	if _, err := b.Next(testCtx(t)); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := b.Send(testCtx(t), testMsg{Type: "msg"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := b.Close(testCtx(t)); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := testutil.ToFloat64(m.connections.WithLabelValues(resultOK)); got != 1 {
		t.Fatalf("connections ok=%v", got)
	}
	if got := testutil.ToFloat64(m.frames.WithLabelValues("in", resultOK)); got != 1 {
		t.Fatalf("frames in=%v", got)
	}
	if got := testutil.ToFloat64(m.frames.WithLabelValues("out", resultOK)); got != 1 {
		t.Fatalf("frames out=%v", got)
	}
	if got := testutil.ToFloat64(m.active); got != 0 {
		t.Fatalf("active after close=%v", got)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	cases := map[State]string{
		Connecting: "connecting",
		Open:       "open",
		Closing:    "closing",
		Closed:     "closed",
		State(9):   "state(9)",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String()=%q want=%q", int32(s), got, want)
		}
	}
}
