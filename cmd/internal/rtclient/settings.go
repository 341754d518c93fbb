package rtclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"rtbridge/cmd/internal/socket"

	"github.com/google/uuid"
)

// Version is reported in the User-Agent of outbound connections.
const Version = "0.1.0"

const (
	DefaultAPIVersion = "2024-10-01-preview"
	DefaultModel      = "gpt-4o-realtime-preview"
	DefaultOpenAIURL  = "wss://api.openai.com/v1/realtime"

	azureRealtimePath = "/openai/realtime"

	HeaderRequestID = "x-ms-client-request-id"
)

// KeyFunc yields an API key at connect time, so settings never hold it.
type KeyFunc func(ctx context.Context) (string, error)

// StaticKey wraps a fixed key.
func StaticKey(key string) KeyFunc {
	return func(context.Context) (string, error) { return key, nil }
}

// AzureOptions selects an Azure OpenAI realtime deployment.
type AzureOptions struct {
	// Endpoint is the resource endpoint, e.g. https://my-res.openai.azure.com.
	Endpoint   string
	Deployment string
	APIVersion string
	// RequestID is sent as x-ms-client-request-id; a UUID when empty.
	RequestID string
	Key       KeyFunc
}

// AzureSettings builds connection settings for an Azure OpenAI deployment.
// The api-key header is injected by the Prepare hook.
func AzureSettings(opts AzureOptions) (socket.Settings, error) {
	if opts.Key == nil {
		return socket.Settings{}, fmt.Errorf("%w: missing key", ErrInvalidSettings)
	}
	deployment := strings.TrimSpace(opts.Deployment)
	if deployment == "" {
		return socket.Settings{}, fmt.Errorf("%w: missing deployment", ErrInvalidSettings)
	}

	u, err := websocketURL(opts.Endpoint)
	if err != nil {
		return socket.Settings{}, err
	}
	u.Path = azureRealtimePath

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	q := u.Query()
	q.Set("api-version", apiVersion)
	q.Set("deployment", deployment)
	u.RawQuery = q.Encode()

	requestID := strings.TrimSpace(opts.RequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	h := http.Header{}
	h.Set("User-Agent", "rtbridge/"+Version)
	h.Set(HeaderRequestID, requestID)

	key := opts.Key
	return socket.Settings{
		URL:    u.String(),
		Header: h,
		Prepare: func(ctx context.Context, s socket.Settings) (socket.Settings, error) {
			k, err := key(ctx)
			if err != nil {
				return socket.Settings{}, err
			}
			s.Header.Set("api-key", k)
			return s, nil
		},
	}, nil
}

// OpenAIOptions selects a model on the OpenAI realtime API.
type OpenAIOptions struct {
	Model string
	// URL overrides DefaultOpenAIURL (proxies, tests).
	URL string
	Key KeyFunc
}

// OpenAISettings builds connection settings for the OpenAI realtime API.
// The bearer token is injected by the Prepare hook.
func OpenAISettings(opts OpenAIOptions) (socket.Settings, error) {
	if opts.Key == nil {
		return socket.Settings{}, fmt.Errorf("%w: missing key", ErrInvalidSettings)
	}

	raw := strings.TrimSpace(opts.URL)
	if raw == "" {
		raw = DefaultOpenAIURL
	}
	u, err := websocketURL(raw)
	if err != nil {
		return socket.Settings{}, err
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	h := http.Header{}
	h.Set("User-Agent", "rtbridge/"+Version)
	h.Set("OpenAI-Beta", "realtime=v1")

	key := opts.Key
	return socket.Settings{
		URL:    u.String(),
		Header: h,
		Prepare: func(ctx context.Context, s socket.Settings) (socket.Settings, error) {
			k, err := key(ctx)
			if err != nil {
				return socket.Settings{}, err
			}
			s.Header.Set("Authorization", "Bearer "+k)
			return s, nil
		},
	}, nil
}

// websocketURL parses an endpoint and maps http(s) onto ws(s).
func websocketURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing endpoint", ErrInvalidSettings)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: endpoint: %w", ErrInvalidSettings, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return nil, fmt.Errorf("%w: unsupported endpoint scheme %q", ErrInvalidSettings, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: endpoint has no host", ErrInvalidSettings)
	}
	return u, nil
}
