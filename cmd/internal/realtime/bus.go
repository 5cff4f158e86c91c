package realtime

import (
	"context"
	"errors"

	v1 "beacon/shared/contracts/realtime/v1"
)

// ErrBusFull is returned by Publish when the message was dropped.
var ErrBusFull = errors.New("realtime: bus full")

// Message is one emit addressed to a set of rooms, or to every connection
// when All is set.
type Message struct {
	Rooms    []string    `json:"rooms,omitempty"`
	All      bool        `json:"all,omitempty"`
	Envelope v1.Envelope `json:"envelope"`
}

// Bus carries emits from producers to the delivering Registry. Publish must
// not block: it is called while the Registry lock is held.
type Bus interface {
	Publish(m Message) error
	// Run feeds received messages to deliver until ctx is done.
	Run(ctx context.Context, deliver func(Message)) error
}

// LocalBus is an in-process Bus backed by a buffered channel. A single
// consumer preserves publish order, so a user's online event is always
// delivered before the matching offline event.
type LocalBus struct {
	ch chan Message
}

func NewLocalBus(buffer int) *LocalBus {
	if buffer <= 0 {
		buffer = defaultBusBuffer
	}
	return &LocalBus{ch: make(chan Message, buffer)}
}

func (b *LocalBus) Publish(m Message) error {
	select {
	case b.ch <- m:
		return nil
	default:
		return ErrBusFull
	}
}

func (b *LocalBus) Run(ctx context.Context, deliver func(Message)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-b.ch:
			deliver(m)
		}
	}
}
