package relay

import (
	"time"

	"rtbridge/cmd/security/accesskey"
)

const (
	defaultReadLimit = 256 << 10

	defaultSendQueue = 256
	minSendQueue     = 32

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	defaultConnect      = 15 * time.Second
	closeGrace          = 2 * time.Second

	defaultHeartbeatEvery   = 25 * time.Second
	defaultHeartbeatTimeout = 5 * time.Second
	maxPingFailures         = 3

	// Audio appends arrive every ~100ms, so the window is generous.
	defaultRateEvents = 600
	defaultRateWindow = 10 * time.Second

	defaultEventsLimit = 50
	maxEventsLimit     = 200

	// AccessKeyHeader and AccessKeyParam carry the relay access key. Browsers
	// cannot set headers on a WebSocket handshake, hence the query fallback.
	AccessKeyHeader = "X-Relay-Key"
	AccessKeyParam  = "access_key"

	// SessionHeader on the 101 response names the journal session.
	SessionHeader = "X-Relay-Session"
)

// Config is the gateway policy. Zero fields fall back to defaults.
type Config struct {
	AllowedOrigins []string
	OriginRequired bool
	// DevInsecure disables websocket.Accept's own origin check.
	DevInsecure bool

	ReadLimit    int64
	SendQueue    int
	WriteTimeout time.Duration
	ReadIdle     time.Duration

	// ConnectTimeout bounds Prepare plus the upstream handshake.
	ConnectTimeout time.Duration

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration

	// AccessKey, when set, is required on /ws and /sessions.
	AccessKey *accesskey.Verifier
}

// DefaultConfig allows localhost origins only.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins:   []string{"http://localhost", "http://127.0.0.1"},
		OriginRequired:   true,
		ReadLimit:        defaultReadLimit,
		SendQueue:        defaultSendQueue,
		WriteTimeout:     defaultWriteTimeout,
		ReadIdle:         defaultReadIdle,
		ConnectTimeout:   defaultConnect,
		HeartbeatEvery:   defaultHeartbeatEvery,
		HeartbeatTimeout: defaultHeartbeatTimeout,
		RateEvents:       defaultRateEvents,
		RateWindow:       defaultRateWindow,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.SendQueue <= 0 {
		c.SendQueue = d.SendQueue
	}
	c.SendQueue = max(c.SendQueue, minSendQueue)
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdle <= 0 {
		c.ReadIdle = d.ReadIdle
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	return c
}
