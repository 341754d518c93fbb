package accesskey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

const maxRemembered = 256

// Verifier checks presented keys against one stored hash. Accepted keys are
// remembered by their HMAC under a per-process secret so repeat connections
// skip Argon2id.
type Verifier struct {
	cfg     Config
	encoded string
	mac     []byte

	mu       sync.Mutex
	accepted map[string]struct{}
}

// NewVerifier validates encoded once up front.
func NewVerifier(cfg Config, encoded string) (*Verifier, error) {
	p, _, _, err := parsePHC(encoded)
	if err != nil {
		return nil, err
	}
	if !cfg.affordable(p) {
		return nil, fmt.Errorf("%w: parameters exceed configured cost", ErrInvalidHash)
	}
	mac := make([]byte, 32)
	if _, err := rand.Read(mac); err != nil {
		return nil, fmt.Errorf("verifier secret: %w", err)
	}
	return &Verifier{
		cfg:      cfg,
		encoded:  encoded,
		mac:      mac,
		accepted: make(map[string]struct{}),
	}, nil
}

// Allow reports whether key matches the stored hash.
func (v *Verifier) Allow(key string) bool {
	if key == "" || len(key) > v.cfg.MaxLength*4 {
		return false
	}
	d := v.digest(key)

	v.mu.Lock()
	_, ok := v.accepted[d]
	v.mu.Unlock()
	if ok {
		return true
	}

	match, err := v.cfg.Verify(v.encoded, key)
	if err != nil || !match {
		return false
	}

	v.mu.Lock()
	if len(v.accepted) >= maxRemembered {
		clear(v.accepted)
	}
	v.accepted[d] = struct{}{}
	v.mu.Unlock()
	return true
}

func (v *Verifier) digest(key string) string {
	m := hmac.New(sha256.New, v.mac)
	_, _ = m.Write([]byte(key))
	return hex.EncodeToString(m.Sum(nil))
}
