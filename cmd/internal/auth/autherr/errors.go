package autherr

import "fmt"

// Error carries a kind plus the operation that produced it.
// Err is the underlying cause (may be nil) and is never shown to clients.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// E builds an *Error.
func E(op string, kind error, cause error) error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// Unavailable wraps an infrastructure failure (directory or store unreachable).
func Unavailable(op string, cause error) error {
	return &Error{Op: op, Kind: ErrInfrastructureUnavailable, Err: cause}
}
