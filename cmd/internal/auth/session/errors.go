package session

import "errors"

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid session config")

// errDuplicateHash means a freshly minted token hash collided with a stored
// one. With 128-bit token IDs this indicates a bug, not bad luck.
var errDuplicateHash = errors.New("session: duplicate token hash")
