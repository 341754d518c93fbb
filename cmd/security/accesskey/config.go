package accesskey

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Params controls Argon2id cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Config bundles hashing cost and key length bounds.
type Config struct {
	Params Params

	MinLength int
	MaxLength int
}

// DefaultConfig is tuned for one verification per relay connection.
func DefaultConfig() Config {
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Params{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		MinLength: 16,
		MaxLength: 512,
	}
}

// FromEnv overlays RTB_ACCESS_KEY_* and RTB_ARGON2_* variables on DefaultConfig.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{"RTB_ACCESS_KEY_MIN_LEN", 8, 1024, &cfg.MinLength},
		{"RTB_ACCESS_KEY_MAX_LEN", 8, 4096, &cfg.MaxLength},
	}
	for _, e := range ints {
		v, ok := os.LookupEnv(e.key)
		if !ok {
			continue
		}
		n, err := parseRange(v, uint64(e.min), uint64(e.max))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = int(n)
	}

	u32s := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{"RTB_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{"RTB_ARGON2_ITERATIONS", 1, 20, &cfg.Params.Iterations},
		{"RTB_ARGON2_SALT_LEN", 8, 64, &cfg.Params.SaltLength},
		{"RTB_ARGON2_KEY_LEN", 16, 64, &cfg.Params.KeyLength},
	}
	for _, e := range u32s {
		v, ok := os.LookupEnv(e.key)
		if !ok {
			continue
		}
		n, err := parseRange(v, uint64(e.min), uint64(e.max))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = uint32(n) // #nosec G115 -- bounded by parseRange.
	}

	if v, ok := os.LookupEnv("RTB_ARGON2_PARALLELISM"); ok {
		n, err := parseRange(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("RTB_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(n) // #nosec G115 -- bounded by parseRange.
	}

	if cfg.MinLength > cfg.MaxLength {
		return Config{}, fmt.Errorf("access key policy invalid: min_len(%d) > max_len(%d)", cfg.MinLength, cfg.MaxLength)
	}
	return cfg, nil
}

func parseRange(s string, lo, hi uint64) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("out of range [%d..%d]", lo, hi)
	}
	return n, nil
}
