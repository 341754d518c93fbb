// Package secrets resolves credentials at the moment they are needed.
//
// A key is looked up in the process environment first, then in a JSON
// object held by the SECRETS variable. Values are never cached in config.
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// BundleEnv names the variable holding a JSON object of secrets.
const BundleEnv = "SECRETS"

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrInvalidBundle  = errors.New("invalid secrets bundle")
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Store resolves secrets. The zero value is not usable; use New.
type Store struct {
	lookup LookupFunc

	once      sync.Once
	bundle    map[string]json.RawMessage
	bundleErr error
}

// New returns a Store backed by the process environment.
func New() *Store { return NewWithLookup(os.LookupEnv) }

// NewWithLookup returns a Store backed by lookup.
func NewWithLookup(lookup LookupFunc) *Store {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Store{lookup: lookup}
}

// Get returns the secret for key.
func (s *Store) Get(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrSecretNotFound)
	}
	if v, ok := s.lookup(key); ok && v != "" {
		return v, nil
	}

	s.once.Do(s.loadBundle)
	if s.bundleErr != nil {
		return "", s.bundleErr
	}

	raw, ok := s.bundle[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if str == "" {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		}
		return str, nil
	}
	// Non-string JSON values are returned as their JSON text.
	return string(raw), nil
}

func (s *Store) loadBundle() {
	v, ok := s.lookup(BundleEnv)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		s.bundleErr = fmt.Errorf("%w: %w", ErrInvalidBundle, err)
		return
	}
	s.bundle = m
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
// With no paths it tries ".env".
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}
