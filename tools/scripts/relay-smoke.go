// Package main provides a CI-friendly smoke test for a running rtbridge relay.
//
// It validates:
//   - handshake with Origin and access key
//   - session.created forwarded from upstream
//   - session.update -> session.updated round trip
//   - relay error event for an invalid frame
//   - journal paging on /sessions/{id}/events
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
	"time"

	v1 "rtbridge/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/oklog/ulid/v2"
)

const (
	maxReadBytes = 1 << 20 // 1MiB

	accessKeyHeader = "X-Relay-Key"
	sessionHeader   = "X-Relay-Session"
)

type journalEvent struct {
	Seq       int64  `json:"seq"`
	Direction string `json:"direction"`
	Type      string `json:"type"`
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "relay WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		key     = flag.String("key", os.Getenv("RTB_RELAY_ACCESS_KEY"), "relay access key, if the relay requires one")
		timeout = flag.Duration("timeout", 15*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	u, err := validateWSURL(*wsURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()
	conn, sessionID := mustConnect(root, u.String(), *origin, *key, *timeout)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	created := mustReadUntilType(root, conn, v1.TypeSessionCreated, *timeout)
	var sess v1.SessionEvent
	if err := created.Decode(&sess); err != nil {
		fatalf("decode session.created: %v", err)
	}
	if *verbose {
		fmt.Printf("connected: relay_session=%s upstream_session=%s\n", sessionID, sess.Session.ID)
	}

	eventID := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	mustWrite(root, conn, map[string]any{
		"type":     v1.TypeSessionUpdate,
		"event_id": eventID,
		"session":  map[string]any{"instructions": "You are a smoke test. Reply briefly."},
	}, *timeout)
	mustReadUntilType(root, conn, v1.TypeSessionUpdated, *timeout)

	mustWrite(root, conn, map[string]any{"type": "definitely.not.a.type"}, *timeout)
	relayErr := mustReadUntilType(root, conn, v1.TypeError, *timeout)
	var ee v1.ErrorEvent
	if err := relayErr.Decode(&ee); err != nil {
		fatalf("decode error event: %v", err)
	}
	if ee.Error.Type != "relay_error" || ee.Error.Code != "invalid_message" {
		fatalf("unexpected error event: type=%q code=%q", ee.Error.Type, ee.Error.Code)
	}

	n := mustFetchEvents(root, u, sessionID, *key, *timeout)

	fmt.Printf("OK: relay_session=%s upstream_session=%s journal_events=%d\n", sessionID, sess.Session.ID, n)
}

func validateWSURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func mustConnect(parent context.Context, wsURL, origin, key string, stepTimeout time.Duration) (*websocket.Conn, string) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if key != "" {
		h.Set(accessKeyHeader, key)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			fatalf("connect: %v (status %d)", err, resp.StatusCode)
		}
		fatalf("connect: %v", err)
	}
	conn.SetReadLimit(maxReadBytes)

	id := resp.Header.Get(sessionHeader)
	if _, err := ulid.ParseStrict(id); err != nil {
		fatalf("handshake missing %s (got %q)", sessionHeader, id)
	}
	return conn, id
}

func mustReadUntilType(parent context.Context, conn *websocket.Conn, wantType string, stepTimeout time.Duration) v1.ServerMessage {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		var m v1.ServerMessage
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			fatalf("waiting for %q: %v", wantType, err)
		}
		if m.Type == wantType {
			return m
		}
		if m.Type == v1.TypeError {
			var ee v1.ErrorEvent
			_ = m.Decode(&ee)
			fatalf("server error while waiting for %q: type=%q code=%q msg=%q", wantType, ee.Error.Type, ee.Error.Code, ee.Error.Message)
		}
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, v any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, conn, v); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustFetchEvents(parent context.Context, wsURL *url.URL, sessionID, key string, stepTimeout time.Duration) int {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	u := *wsURL
	u.Scheme = strings.Replace(u.Scheme, "ws", "http", 1)
	u.Path = "/sessions/" + sessionID + "/events"
	u.RawQuery = url.Values{"limit": {"200"}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		fatalf("events request: %v", err)
	}
	if key != "" {
		req.Header.Set(accessKeyHeader, key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("events fetch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fatalf("events fetch: status %d", resp.StatusCode)
	}

	var page struct {
		SessionID string         `json:"session_id"`
		Events    []journalEvent `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		fatalf("events decode: %v", err)
	}
	if page.SessionID != sessionID {
		fatalf("events session mismatch: got=%q want=%q", page.SessionID, sessionID)
	}

	// session.created, session.update, session.updated at least
	if len(page.Events) < 3 {
		fatalf("expected at least 3 journal events, got %d", len(page.Events))
	}
	for i, e := range page.Events {
		if e.Seq != int64(i+1) {
			fatalf("journal seq gap at %d: seq=%d", i, e.Seq)
		}
	}
	return len(page.Events)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
