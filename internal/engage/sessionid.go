package engage

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewSessionID returns a lexicographically sortable 26-char id.
func NewSessionID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewJobID uses the same format as session ids.
func NewJobID() (string, error) {
	return NewSessionID()
}
