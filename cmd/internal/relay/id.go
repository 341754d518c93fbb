package relay

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a 26 char ULID, sortable by creation time.
func NewSessionID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ValidSessionID reports whether s parses as a ULID.
func ValidSessionID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
