// Package ids provides ID primitives shared across ArqonBus components.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars). ULIDs are lexicographically
// sortable by creation time, which satisfies the envelope id's
// monotonic-friendly, time-sortable requirement without a central counter.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustNewULID panics on failure. Used where entropy exhaustion would be a
// programmer error (crypto/rand failing is not something callers can recover
// from sensibly).
func MustNewULID(now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		panic(err)
	}
	return id
}
