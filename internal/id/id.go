package id

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewToken generates a URL-safe random string of the given length using
// NanoID. Used for the public and secret parts of API keys.
//
// NanoIDs are compact and use a larger alphabet than hex for better
// entropy per character, and the alphabet (A-Za-z0-9_-) never collides
// with the "." separator inside issued tokens.
//
// Returns an error if the system has insufficient entropy for secure random generation.
func NewToken(length int) (string, error) {
	token, err := gonanoid.New(length)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// NewRecordID generates a UUID string for stored records: change events,
// detection runs, alert entries. UUIDs are used here rather than NanoIDs
// so record IDs stay recognizable next to externally issued tokens.
func NewRecordID() string {
	return uuid.NewString()
}
