package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"beacon/cmd/identity"
	v1 "beacon/shared/contracts/realtime/v1"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingBus captures published messages without delivering them.
type recordingBus struct {
	mu   sync.Mutex
	msgs []Message
	fail bool
}

func (b *recordingBus) Publish(m Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return ErrBusFull
	}
	b.msgs = append(b.msgs, m)
	return nil
}

func (b *recordingBus) Run(ctx context.Context, _ func(Message)) error {
	<-ctx.Done()
	return nil
}

// presence returns the presence events published for userID, in order.
func (b *recordingBus) presence(t *testing.T, userID string) []string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []string
	for _, m := range b.msgs {
		ev, data := decodeEvent(t, m.Envelope)
		if ev != v1.EventPresenceOnline && ev != v1.EventPresenceOffline {
			continue
		}
		var pd v1.PresenceData
		if err := json.Unmarshal(data, &pd); err != nil {
			t.Fatalf("presence data: %v", err)
		}
		if pd.UserID == userID {
			out = append(out, ev)
		}
	}
	return out
}

func decodeEvent(t *testing.T, env v1.Envelope) (string, json.RawMessage) {
	t.Helper()
	if env.Type != v1.TypeEvent {
		return "", nil
	}
	var p v1.EventPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("event payload: %v", err)
	}
	return p.Event, p.Data
}

type liveRealtime struct {
	reg  *Registry
	disp *Dispatcher
}

// newLiveRealtime runs a LocalBus into a Registry for the test's lifetime.
func newLiveRealtime(t *testing.T, authz RoomAuthorizer) liveRealtime {
	t.Helper()

	bus := NewLocalBus(0)
	reg := NewRegistry(bus, WithLogger(quietLogger()))
	disp := NewDispatcher(reg, authz, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Run(ctx, func(m Message) { reg.Deliver(m) })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return liveRealtime{reg: reg, disp: disp}
}

func (l liveRealtime) connect(t *testing.T, userID string, role identity.Role) *Conn {
	t.Helper()
	c := NewConn(userID, role, 64)
	if _, err := l.reg.Connect(c); err != nil {
		t.Fatalf("Connect(%s): %v", userID, err)
	}
	return c
}

// events reads c's queue until the sentinel event arrives and returns the
// non-presence event names seen before it.
func events(t *testing.T, c *Conn, sentinel string) []string {
	t.Helper()

	var out []string
	timeout := time.After(3 * time.Second)
	for {
		select {
		case env := <-c.Send:
			ev, _ := decodeEvent(t, env)
			switch ev {
			case sentinel:
				return out
			case "", v1.EventPresenceOnline, v1.EventPresenceOffline:
			default:
				out = append(out, ev)
			}
		case <-timeout:
			t.Fatalf("conn %s: sentinel %q not received", c.UserID, sentinel)
			return nil
		}
	}
}
