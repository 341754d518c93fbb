package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// PrepareFunc rewrites settings right before the transport is dialed.
// It is the seam where credentials are injected so the base Settings never
// has to carry secrets.
type PrepareFunc func(ctx context.Context, s Settings) (Settings, error)

// Settings describes one connection attempt.
// A Settings value handed to New is never mutated by the Bridge.
type Settings struct {
	URL       string
	Protocols []string
	Header    http.Header
	Prepare   PrepareFunc
}

// Clone returns a deep copy (Prepare is shared).
func (s Settings) Clone() Settings {
	out := s
	out.Protocols = slices.Clone(s.Protocols)
	out.Header = s.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	return out
}

// Validate checks the target address.
func (s Settings) Validate() error {
	raw := strings.TrimSpace(s.URL)
	if raw == "" {
		return errors.New("missing url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("unsupported scheme: %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

// resolve runs Prepare exactly once on a private copy.
func (s Settings) resolve(ctx context.Context) (Settings, error) {
	out := s.Clone()
	if out.Prepare != nil {
		prepared, err := out.Prepare(ctx, out)
		if err != nil {
			return Settings{}, fmt.Errorf("prepare: %w", err)
		}
		out = prepared
	}
	if err := out.Validate(); err != nil {
		return Settings{}, err
	}
	return out, nil
}
