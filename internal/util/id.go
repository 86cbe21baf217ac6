package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 24-char random hex identifier. Used for request ids
// and queue job ids; persisted rows that round-trip through clients use
// UUIDs instead, since the validator checks UUID shape.
func NewID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
