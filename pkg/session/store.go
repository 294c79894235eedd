package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrNoValue is returned by Get when the session holds no value for a key.
var ErrNoValue = errors.New("session: no value for key")

// Store persists per-session key/value state. A session is addressed by its
// opaque ID; individual values live under string keys within it. Backends
// expire whole sessions after their idle TTL.
type Store interface {
	// Set stores a value under key and refreshes the session TTL.
	Set(ctx context.Context, sid, key string, value []byte) error

	// Get returns the value under key, or ErrNoValue when absent.
	Get(ctx context.Context, sid, key string) ([]byte, error)

	// Delete removes a single key from the session.
	Delete(ctx context.Context, sid, key string) error

	// Destroy removes the session and all its values.
	Destroy(ctx context.Context, sid string) error
}

// sessionIDBytes gives 256 bits of entropy per session ID.
const sessionIDBytes = 32

// NewSessionID generates a cryptographically random session identifier.
func NewSessionID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
