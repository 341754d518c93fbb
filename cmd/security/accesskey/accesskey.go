package accesskey

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
)

const (
	phcAlgorithm = "argon2id"
	phcVersion   = argon2.Version
)

var b64 = base64.RawStdEncoding

// Generate returns a random URL-safe key with n bytes of entropy.
func Generate(n int) (string, error) {
	if n < 16 {
		n = 16
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Check applies the length and weakness rules to key.
func (c Config) Check(key string) error {
	n := utf8.RuneCountInString(key)
	switch {
	case n < c.MinLength:
		return ErrKeyTooShort
	case n > c.MaxLength:
		return ErrKeyTooLong
	case repeatsOneRune(key):
		return ErrWeakKey
	}
	return nil
}

func repeatsOneRune(s string) bool {
	first, _ := utf8.DecodeRuneInString(s)
	for _, r := range s {
		if r != first {
			return false
		}
	}
	return true
}

// Hash derives the PHC string for key:
// $argon2id$v=19$m=<kib>,t=<iter>,p=<par>$<salt>$<hash>
func (c Config) Hash(key string) (string, error) {
	if err := c.Check(key); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	p := c.Params
	sum := argon2.IDKey([]byte(key), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)

	var sb strings.Builder
	fmt.Fprintf(&sb, "$%s$v=%d$m=%d,t=%d,p=%d$", phcAlgorithm, phcVersion, p.MemoryKiB, p.Iterations, p.Parallelism)
	sb.WriteString(b64.EncodeToString(salt))
	sb.WriteByte('$')
	sb.WriteString(b64.EncodeToString(sum))
	return sb.String(), nil
}

// Verify reports whether key matches encoded. A mismatch is (false, nil);
// malformed or oversized hashes return ErrInvalidHash.
func (c Config) Verify(encoded, key string) (bool, error) {
	p, salt, want, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if !c.affordable(p) {
		return false, fmt.Errorf("%w: parameters exceed configured cost", ErrInvalidHash)
	}
	got := argon2.IDKey([]byte(key), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// affordable accepts hashes made with cheaper settings and at most double the
// configured cost.
func (c Config) affordable(p Params) bool {
	lim := c.Params
	return p.MemoryKiB <= lim.MemoryKiB*2 &&
		p.Iterations <= lim.Iterations*2 &&
		uint32(p.Parallelism) <= uint32(lim.Parallelism)*2 &&
		p.SaltLength >= 8 && p.SaltLength <= 64 &&
		p.KeyLength >= 16 && p.KeyLength <= 128
}

func parsePHC(encoded string) (Params, []byte, []byte, error) {
	fields := strings.Split(strings.TrimSpace(encoded), "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != phcAlgorithm {
		return Params{}, nil, nil, ErrInvalidHash
	}
	if fields[2] != "v="+strconv.Itoa(phcVersion) {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidHash, fields[2])
	}

	var p Params
	for kv := range strings.SplitSeq(fields[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return Params{}, nil, nil, ErrInvalidHash
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return Params{}, nil, nil, ErrInvalidHash
		}
		switch k {
		case "m":
			p.MemoryKiB = uint32(n)
		case "t":
			p.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return Params{}, nil, nil, ErrInvalidHash
			}
			p.Parallelism = uint8(n)
		default:
			return Params{}, nil, nil, ErrInvalidHash
		}
	}
	if p.MemoryKiB == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return Params{}, nil, nil, ErrInvalidHash
	}

	salt, err := b64.DecodeString(fields[4])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	sum, err := b64.DecodeString(fields[5])
	if err != nil {
		return Params{}, nil, nil, ErrInvalidHash
	}
	p.SaltLength = uint32(len(salt)) // #nosec G115 -- bounded by affordable().
	p.KeyLength = uint32(len(sum))   // #nosec G115 -- bounded by affordable().
	return p, salt, sum, nil
}
