package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"rtbridge/cmd/internal/relay"
	"rtbridge/cmd/internal/rtclient"
	"rtbridge/cmd/internal/socket"
)

const (
	ProviderAzure  = "azure"
	ProviderOpenAI = "openai"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config contains all runtime configuration loaded from environment variables.
// It never holds secrets; API keys are resolved at connect time by name.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	// Zero disables a timeout. Read/Write stay disabled by default because
	// /ws connections are long-lived.
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string
	DBMigrate   bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	Provider   string
	Endpoint   string
	Deployment string
	APIVersion string
	Model      string
	OpenAIURL  string
	APIKeyName string

	ConnectTimeout time.Duration
	ReadLimit      int64

	Relay         relay.Config
	AccessKeyHash string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	rc := relay.DefaultConfig()
	cfg := Config{
		HTTPAddr:  EnvString("RTB_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("RTB_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("RTB_LOG_FORMAT", "json")),

		ReadHeaderTimeout: EnvDuration("RTB_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("RTB_HTTP_READ_TIMEOUT", 0),
		WriteTimeout:      EnvDuration("RTB_HTTP_WRITE_TIMEOUT", 0),
		IdleTimeout:       EnvDuration("RTB_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("RTB_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("RTB_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("RTB_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("RTB_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("RTB_DB_SCHEMA", "rtbridge"),
		DBMigrate:   EnvBool("RTB_DB_MIGRATE", true),

		ReadinessRequireDB: EnvBool("RTB_READINESS_REQUIRE_DB", false),

		Provider:   strings.ToLower(EnvString("RTB_PROVIDER", ProviderAzure)),
		Endpoint:   EnvFirst("", "RTB_ENDPOINT", "ENDPOINT"),
		Deployment: EnvFirst("", "RTB_DEPLOYMENT", "DEPLOYMENT_ID"),
		APIVersion: EnvFirst(rtclient.DefaultAPIVersion, "RTB_API_VERSION", "API_VERSION"),
		Model:      EnvString("RTB_MODEL", rtclient.DefaultModel),
		OpenAIURL:  EnvString("RTB_OPENAI_URL", rtclient.DefaultOpenAIURL),
		APIKeyName: EnvString("RTB_API_KEY_NAME", "API_KEY"),

		ConnectTimeout: EnvDuration("RTB_CONNECT_TIMEOUT", 15*time.Second),
		ReadLimit:      EnvBytes("RTB_READ_LIMIT", socket.DefaultReadLimit),

		Relay: relay.Config{
			AllowedOrigins:   EnvCSV("RTB_RELAY_ALLOWED_ORIGINS", strings.Join(rc.AllowedOrigins, ",")),
			OriginRequired:   EnvBool("RTB_RELAY_ORIGIN_REQUIRED", rc.OriginRequired),
			DevInsecure:      EnvBool("RTB_RELAY_DEV_INSECURE", false),
			ReadLimit:        EnvBytes("RTB_RELAY_READ_LIMIT", rc.ReadLimit),
			SendQueue:        EnvInt("RTB_RELAY_SEND_QUEUE", rc.SendQueue),
			WriteTimeout:     EnvDuration("RTB_RELAY_WRITE_TIMEOUT", rc.WriteTimeout),
			ReadIdle:         EnvDuration("RTB_RELAY_READ_IDLE_TIMEOUT", rc.ReadIdle),
			ConnectTimeout:   EnvDuration("RTB_CONNECT_TIMEOUT", rc.ConnectTimeout),
			HeartbeatEvery:   EnvDuration("RTB_RELAY_HEARTBEAT_INTERVAL", rc.HeartbeatEvery),
			HeartbeatTimeout: EnvDuration("RTB_RELAY_HEARTBEAT_TIMEOUT", rc.HeartbeatTimeout),
			RateEvents:       EnvInt("RTB_RELAY_RATE_EVENTS", rc.RateEvents),
			RateWindow:       EnvDuration("RTB_RELAY_RATE_WINDOW", rc.RateWindow),
		},
		AccessKeyHash: EnvString("RTB_RELAY_ACCESS_KEY_HASH", ""),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings that would only fail later at connect time.
func (c Config) Validate() error {
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("%w: RTB_LOG_FORMAT=%q (want json or pretty)", ErrInvalidConfig, c.LogFormat)
	}
	switch c.Provider {
	case ProviderAzure, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: RTB_PROVIDER=%q (want azure or openai)", ErrInvalidConfig, c.Provider)
	}
	if strings.TrimSpace(c.APIKeyName) == "" {
		return fmt.Errorf("%w: RTB_API_KEY_NAME is empty", ErrInvalidConfig)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: RTB_DB_MIN_CONNS > RTB_DB_MAX_CONNS", ErrInvalidConfig)
	}
	return nil
}
