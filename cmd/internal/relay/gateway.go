package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"rtbridge/cmd/internal/rtclient"
	"rtbridge/cmd/internal/socket"
	v1 "rtbridge/contracts/realtime/v1"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
)

// Upstream resolves the connection settings for one new session. It runs per
// browser connection, so rotated credentials are picked up without a restart.
type Upstream func(ctx context.Context) (socket.Settings, error)

// Options carries optional collaborators.
type Options struct {
	Logger  *slog.Logger
	Journal Journal
	Metrics *Metrics

	// BridgeMetrics and Dialer are handed to every upstream Bridge.
	BridgeMetrics *socket.Metrics
	Dialer        socket.Dialer
}

// Gateway is the browser-facing WebSocket endpoint.
type Gateway struct {
	cfg      Config
	upstream Upstream
	log      *slog.Logger
	journal  Journal
	metrics  *Metrics

	bridgeMetrics *socket.Metrics
	dialer        socket.Dialer

	patterns []string
}

func NewGateway(cfg Config, upstream Upstream, opts Options) *Gateway {
	if upstream == nil {
		panic("relay: nil Upstream")
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	journal := opts.Journal
	if journal == nil {
		journal = NewMemoryJournal()
	}
	cfg = cfg.withDefaults()

	return &Gateway{
		cfg:           cfg,
		upstream:      upstream,
		log:           log,
		journal:       journal,
		metrics:       opts.Metrics,
		bridgeMetrics: opts.BridgeMetrics,
		dialer:        opts.Dialer,
		patterns:      originPatterns(cfg.AllowedOrigins),
	}
}

// Journal returns the journal sessions are recorded in.
func (g *Gateway) Journal() Journal { return g.journal }

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := checkOrigin(r, g.cfg.AllowedOrigins, g.cfg.OriginRequired); err != nil {
		g.log.Info("relay.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		g.metrics.session(sessionRejectedOrigin)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !g.authorized(r) {
		g.log.Info("relay.reject.key", "remote", r.RemoteAddr)
		g.metrics.session(sessionRejectedKey)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id, err := NewSessionID(time.Now())
	if err != nil {
		g.log.Error("relay.session_id.fail", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set(SessionHeader, id)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     g.patterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("relay.accept.fail", "err", err)
		return
	}
	conn.SetReadLimit(g.cfg.ReadLimit)

	s := &session{
		g:    g,
		id:   id,
		log:  g.log.With("session_id", id),
		conn: conn,
		send: make(chan outbound, g.cfg.SendQueue),
	}
	s.run(r.Context())
}

// authorized checks the access key when one is configured.
func (g *Gateway) authorized(r *http.Request) bool {
	if g.cfg.AccessKey == nil {
		return true
	}
	key := strings.TrimSpace(r.Header.Get(AccessKeyHeader))
	if key == "" {
		key = r.URL.Query().Get(AccessKeyParam)
	}
	return g.cfg.AccessKey.Allow(key)
}

// ---- session ----

// sessionEnd asks the writer to close the browser side once everything
// queued before it has been written.
type sessionEnd struct {
	code   websocket.StatusCode
	reason string
}

func (e *sessionEnd) Error() string { return fmt.Sprintf("session end %d: %s", e.code, e.reason) }

type outbound struct {
	data []byte
	end  *sessionEnd
}

var errBrowserGone = errors.New("browser closed")

type session struct {
	g    *Gateway
	id   string
	log  *slog.Logger
	conn *websocket.Conn
	send chan outbound

	client *rtclient.Client

	closeOnce sync.Once
}

func (s *session) run(parent context.Context) {
	started := time.Now()
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	if err := s.dial(ctx); err != nil {
		s.g.metrics.session(sessionUpstreamFailed)
		s.log.Error("relay.upstream.fail", "err", err)
		s.writeError(ctx, "upstream_unavailable", err.Error(), "")
		s.shutdown(websocket.StatusInternalError, "upstream unavailable")
		return
	}
	s.g.metrics.session(sessionAccepted)
	s.g.metrics.opened()
	defer s.g.metrics.closed()
	s.log.Info("relay.accept", "request_id", s.client.RequestID())

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return s.writer(gctx) })
	grp.Go(func() error { return s.fromUpstream(gctx) })
	grp.Go(func() error { return s.fromBrowser(gctx) })
	grp.Go(func() error { return s.heartbeat(gctx) })
	err := grp.Wait()

	s.shutdown(websocket.StatusNormalClosure, "bye")

	closeCtx, closeCancel := context.WithTimeout(context.Background(), closeGrace)
	defer closeCancel()
	if cerr := s.client.Close(closeCtx); cerr != nil && !errors.Is(cerr, context.DeadlineExceeded) {
		s.log.Debug("relay.upstream.close", "err", cerr)
	}

	s.log.Info("relay.close",
		"reason", err,
		"upstream_err", s.client.Err(),
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

// dial opens the upstream and waits for the handshake to settle.
func (s *session) dial(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, s.g.cfg.ConnectTimeout)
	defer cancel()

	settings, err := s.g.upstream(connectCtx)
	if err != nil {
		return fmt.Errorf("resolve upstream: %w", err)
	}
	s.client = rtclient.New(connectCtx, settings, socket.Options{
		ID:      s.id,
		Logger:  s.g.log,
		Dialer:  s.g.dialer,
		Metrics: s.g.bridgeMetrics,
	})

	<-s.client.Bridge().Connected()
	if s.client.Bridge().State() != socket.Open {
		return s.client.Err()
	}
	return nil
}

// shutdown closes the browser side once; later calls are no-ops.
func (s *session) shutdown(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		_ = s.conn.Close(code, truncateReason(reason))
	})
}

func (s *session) writer(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case out := <-s.send:
			if out.end != nil {
				s.shutdown(out.end.code, out.end.reason)
				return out.end
			}
			wctx, cancel := context.WithTimeout(ctx, s.g.cfg.WriteTimeout)
			err := s.conn.Write(wctx, websocket.MessageText, out.data)
			cancel()
			if err != nil {
				s.log.Info("relay.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
				s.shutdown(websocket.StatusGoingAway, "write failed")
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

// fromUpstream forwards every validated upstream message verbatim. The end
// of the sequence is queued behind the forwarded frames.
func (s *session) fromUpstream(ctx context.Context) error {
	for msg, err := range s.client.Messages(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Info("relay.upstream.error", "err", err)
			return s.enqueueEnd(ctx, &sessionEnd{code: websocket.StatusInternalError, reason: upstreamReason(err)})
		}

		select {
		case s.send <- outbound{data: msg.Raw}:
		case <-ctx.Done():
			return nil
		}
		s.g.metrics.frame(FromServer, frameForwarded)
		s.record(ctx, FromServer, msg.Type, msg.EventID, len(msg.Raw))
	}
	if ctx.Err() != nil {
		return nil
	}
	return s.enqueueEnd(ctx, &sessionEnd{code: websocket.StatusNormalClosure, reason: "upstream closed"})
}

func (s *session) enqueueEnd(ctx context.Context, end *sessionEnd) error {
	select {
	case s.send <- outbound{end: end}:
	case <-ctx.Done():
	}
	return nil
}

func (s *session) fromBrowser(ctx context.Context) error {
	rl := NewRateLimiter(s.g.cfg.RateEvents, s.g.cfg.RateWindow)

	for {
		readCtx, cancel := context.WithTimeout(ctx, s.g.cfg.ReadIdle)
		typ, data, err := s.conn.Read(readCtx)
		idle := errors.Is(readCtx.Err(), context.DeadlineExceeded)
		cancel()

		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case websocket.CloseStatus(err) != -1:
				s.shutdown(websocket.StatusNormalClosure, "peer closed")
				return errBrowserGone
			case idle:
				s.shutdown(websocket.StatusPolicyViolation, "idle timeout")
				return fmt.Errorf("browser idle: %w", err)
			default:
				s.shutdown(websocket.StatusGoingAway, "read failed")
				return fmt.Errorf("browser read: %w", err)
			}
		}

		if !rl.Allow(time.Now()) {
			s.g.metrics.frame(FromClient, frameRateLimited)
			s.trySendError(ctx, "rate_limited", "too many events", "")
			return s.enqueueEnd(ctx, &sessionEnd{code: websocket.StatusPolicyViolation, reason: "rate limited"})
		}

		if typ != websocket.MessageText {
			s.g.metrics.frame(FromClient, frameInvalid)
			s.trySendError(ctx, "invalid_message_type", "binary frames are not supported", "")
			continue
		}
		msg, err := v1.ParseClientMessage(data)
		if err != nil {
			s.g.metrics.frame(FromClient, frameInvalid)
			s.trySendError(ctx, "invalid_message", err.Error(), "")
			continue
		}
		if err := s.client.SendMessage(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.g.metrics.frame(FromClient, frameSendFailed)
			s.trySendError(ctx, "send_failed", err.Error(), msg.EventID)
			continue
		}
		s.g.metrics.frame(FromClient, frameForwarded)
		s.record(ctx, FromClient, msg.Type, msg.EventID, len(data))
	}
}

func (s *session) heartbeat(ctx context.Context) error {
	t := time.NewTicker(s.g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}

		pctx, cancel := context.WithTimeout(ctx, s.g.cfg.HeartbeatTimeout)
		err := s.conn.Ping(pctx)
		cancel()
		if err == nil {
			failures = 0
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		failures++
		s.log.Info("relay.ping.fail", "failures", failures, "err", err)
		if failures >= maxPingFailures {
			s.shutdown(websocket.StatusGoingAway, "heartbeat failed")
			return fmt.Errorf("heartbeat: %w", err)
		}
	}
}

func (s *session) record(ctx context.Context, dir Direction, typ, eventID string, n int) {
	_, err := s.g.journal.Append(ctx, Event{
		SessionID: s.id,
		Direction: dir,
		Type:      typ,
		EventID:   eventID,
		Bytes:     n,
		At:        time.Now().UTC(),
	})
	if err != nil && ctx.Err() == nil {
		s.g.metrics.journalError()
		s.log.Error("relay.journal.fail", "direction", dir, "type", typ, "err", err)
	}
}

// ---- error events ----

type relayError struct {
	Type string `json:"type"`
	v1.ErrorEvent
}

func errorFrame(code, message, eventID string) []byte {
	b, _ := json.Marshal(relayError{
		Type: v1.TypeError,
		ErrorEvent: v1.ErrorEvent{Error: v1.RealtimeError{
			Type:    "relay_error",
			Code:    code,
			Message: message,
			EventID: eventID,
		}},
	})
	return b
}

// trySendError queues an error event without blocking; it is dropped when
// the queue is full.
func (s *session) trySendError(ctx context.Context, code, message, eventID string) {
	select {
	case <-ctx.Done():
	case s.send <- outbound{data: errorFrame(code, message, eventID)}:
	default:
		s.log.Debug("relay.error.dropped", "code", code)
	}
}

// writeError writes straight to the browser, bypassing the queue.
func (s *session) writeError(ctx context.Context, code, message, eventID string) {
	wctx, cancel := context.WithTimeout(ctx, s.g.cfg.WriteTimeout)
	defer cancel()
	_ = s.conn.Write(wctx, websocket.MessageText, errorFrame(code, message, eventID))
}

func upstreamReason(err error) string {
	switch {
	case errors.Is(err, socket.ErrProtocolViolation):
		return "upstream protocol violation"
	case errors.Is(err, socket.ErrTransport):
		return "upstream transport error"
	default:
		return "upstream error"
	}
}

// truncateReason keeps a close reason within the 123 byte control frame limit.
func truncateReason(s string) string {
	const maxReason = 123
	if len(s) <= maxReason {
		return s
	}
	s = s[:maxReason]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
