package uuid

import (
	"encoding/hex"

	google_uuid "github.com/google/uuid"
)

// MustUUID returns a random UUID in its canonical string form
func MustUUID() string {
	return google_uuid.New().String()
}

// RandomID returns a random 128-bit identifier as a hex string.
// It is used to name callers that did not supply an identity.
func RandomID() string {
	id := google_uuid.New()

	return hex.EncodeToString(id[:])
}
