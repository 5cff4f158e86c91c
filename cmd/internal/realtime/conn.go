package realtime

import (
	"sync"

	"github.com/google/uuid"

	"beacon/cmd/identity"
	v1 "beacon/shared/contracts/realtime/v1"
)

// Conn is one live WebSocket connection.
//
// Send is never closed by the server so concurrent deliveries cannot panic;
// done signals shutdown instead. Role is captured at handshake and not
// re-checked per event.
type Conn struct {
	ID     string
	UserID string
	Role   identity.Role
	Send   chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	// guarded by Registry.mu
	rooms map[string]struct{}
}

// NewConn returns a connection with a fresh UUID and a bounded send queue.
func NewConn(userID string, role identity.Role, sendQueue int) *Conn {
	if sendQueue <= 0 {
		sendQueue = defaultSendQueue
	}
	return &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		Role:   role,
		Send:   make(chan v1.Envelope, sendQueue),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

// Done is closed when the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close is idempotent. It does not close Send.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue is a non-blocking send. It reports false when the queue is full
// or the connection is closing.
func (c *Conn) enqueue(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
