package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rtbridge/cmd/internal/rtclient"
	"rtbridge/cmd/internal/socket"
	"rtbridge/cmd/security/accesskey"
	v1 "rtbridge/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// fakeUpstream plays the realtime API: it greets with session.created, echoes
// session.update, and reacts to a few trigger verbs.
func fakeUpstream(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = c.CloseNow() }()
	ctx := r.Context()

	_ = wsjson.Write(ctx, c, map[string]any{"type": v1.TypeSessionCreated, "session": map[string]any{"id": "sess_up"}})
	for {
		var in map[string]any
		if err := wsjson.Read(ctx, c, &in); err != nil {
			return
		}
		switch in["type"] {
		case v1.TypeSessionUpdate:
			_ = wsjson.Write(ctx, c, map[string]any{"type": v1.TypeSessionUpdated, "event_id": in["event_id"], "session": in["session"]})
		case v1.TypeResponseCancel:
			_ = c.Close(websocket.StatusNormalClosure, "done")
			return
		case v1.TypeItemDelete:
			_ = wsjson.Write(ctx, c, map[string]any{"type": "not_a_real_type"})
		}
	}
}

func upstreamTo(t *testing.T) Upstream {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(fakeUpstream))
	t.Cleanup(srv.Close)

	return func(context.Context) (socket.Settings, error) {
		return rtclient.AzureSettings(rtclient.AzureOptions{
			Endpoint:   srv.URL,
			Deployment: "test",
			Key:        rtclient.StaticKey("upstream-key"),
		})
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.OriginRequired = false
	return cfg
}

func newRelay(t *testing.T, cfg Config, up Upstream) (*Gateway, *MemoryJournal, string) {
	t.Helper()
	j := NewMemoryJournal()
	g := NewGateway(cfg, up, Options{Logger: slog.New(slog.DiscardHandler), Journal: j})
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, j, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func dialBrowser(t *testing.T, url string, h http.Header) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.Dial(testCtx(t), url, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		t.Fatalf("dial relay: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func readEvent(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	var m map[string]any
	if err := wsjson.Read(testCtx(t), c, &m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func expectEvent(t *testing.T, c *websocket.Conn, typ string) map[string]any {
	t.Helper()
	m := readEvent(t, c)
	if m["type"] != typ {
		t.Fatalf("type=%v want=%s (%v)", m["type"], typ, m)
	}
	return m
}

func expectRelayError(t *testing.T, c *websocket.Conn, code string) {
	t.Helper()
	m := expectEvent(t, c, v1.TypeError)
	body, _ := m["error"].(map[string]any)
	if body["code"] != code {
		t.Fatalf("error code=%v want=%s (%v)", body["code"], code, m)
	}
}

func expectClose(t *testing.T, c *websocket.Conn, code websocket.StatusCode) error {
	t.Helper()
	_, _, err := c.Read(testCtx(t))
	if got := websocket.CloseStatus(err); got != code {
		t.Fatalf("close status=%v want=%v (err=%v)", got, code, err)
	}
	return err
}

func send(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	if err := c.Write(testCtx(t), websocket.MessageText, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func onlySession(t *testing.T, j *MemoryJournal) string {
	t.Helper()
	var id string
	waitFor(t, func() bool {
		j.mu.Lock()
		defer j.mu.Unlock()
		if len(j.order) == 1 {
			id = j.order[0]
			return true
		}
		return false
	})
	return id
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func cheapKeyConfig() accesskey.Config {
	cfg := accesskey.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func closeErr(err error) websocket.CloseError {
	var ce websocket.CloseError
	errors.As(err, &ce)
	return ce
}

func newServer(t *testing.T, g *Gateway) string {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}
