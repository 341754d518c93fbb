package app

import (
	"context"
	"fmt"

	"rtbridge/cmd/internal/relay"
	"rtbridge/cmd/internal/rtclient"
	"rtbridge/cmd/internal/secrets"
	"rtbridge/cmd/internal/socket"
)

// SecretKey resolves the API key named name through store on every connect.
func SecretKey(store *secrets.Store, name string) rtclient.KeyFunc {
	return func(context.Context) (string, error) {
		k, err := store.Get(name)
		if err != nil {
			return "", fmt.Errorf("api key %s: %w", name, err)
		}
		return k, nil
	}
}

// UpstreamSettings builds settings for the configured provider. Each call
// gets a fresh request id.
func (c Config) UpstreamSettings(store *secrets.Store) (socket.Settings, error) {
	key := SecretKey(store, c.APIKeyName)
	switch c.Provider {
	case ProviderOpenAI:
		return rtclient.OpenAISettings(rtclient.OpenAIOptions{Model: c.Model, URL: c.OpenAIURL, Key: key})
	case ProviderAzure:
		return rtclient.AzureSettings(rtclient.AzureOptions{
			Endpoint:   c.Endpoint,
			Deployment: c.Deployment,
			APIVersion: c.APIVersion,
			Key:        key,
		})
	default:
		return socket.Settings{}, fmt.Errorf("%w: provider %q", ErrInvalidConfig, c.Provider)
	}
}

// Upstream adapts UpstreamSettings for the relay gateway.
func (c Config) Upstream(store *secrets.Store) relay.Upstream {
	return func(context.Context) (socket.Settings, error) {
		return c.UpstreamSettings(store)
	}
}
