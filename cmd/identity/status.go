package identity

import "strings"

// Status is an account's approval state. Only StatusApproved may hold sessions.
type Status string

const (
	StatusApproved  Status = "approved"
	StatusPending   Status = "pending"
	StatusSuspended Status = "suspended"
	StatusRejected  Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusApproved, StatusPending, StatusSuspended, StatusRejected:
		return true
	}
	return false
}

// ParseStatus parses a status name (case-insensitive).
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", invalid("identity.ParseStatus", "unknown status")
	}
	return st, nil
}
