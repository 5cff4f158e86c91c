package identity

import (
	"time"

	"beacon/cmd/identity/ids"
)

// NewUserID returns a new user ID (ULID).
func NewUserID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
