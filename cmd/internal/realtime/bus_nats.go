package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultNATSSubject is the subject every node publishes emits on.
const DefaultNATSSubject = "beacon.realtime.emit"

// NATSBus fans emits out to every server process subscribed to the same
// subject. Each node delivers to its own connections only, including the
// publishing node, which receives its own messages back.
type NATSBus struct {
	nc      *nats.Conn
	subject string
	log     *slog.Logger
}

// ConnectNATS dials url and returns a bus on subject.
func ConnectNATS(url, subject string, log *slog.Logger) (*NATSBus, error) {
	if log == nil {
		log = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("beacon-realtime"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("realtime.nats.disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("realtime.nats.reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("realtime: nats connect: %w", err)
	}
	return NewNATSBus(nc, subject, log), nil
}

// NewNATSBus wraps an existing connection. The caller keeps ownership of nc
// unless it calls Close.
func NewNATSBus(nc *nats.Conn, subject string, log *slog.Logger) *NATSBus {
	if log == nil {
		log = slog.Default()
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSBus{nc: nc, subject: subject, log: log}
}

// Publish hands the message to the client's outbound buffer; it returns an
// error rather than waiting when that buffer is unavailable.
func (b *NATSBus) Publish(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject, data)
}

func (b *NATSBus) Run(ctx context.Context, deliver func(Message)) error {
	ch := make(chan *nats.Msg, defaultBusBuffer)
	sub, err := b.nc.ChanSubscribe(b.subject, ch)
	if err != nil {
		return fmt.Errorf("realtime: nats subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	b.log.Info("realtime.nats.subscribed", "subject", b.subject)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			var m Message
			if err := json.Unmarshal(msg.Data, &m); err != nil {
				b.log.Warn("realtime.nats.bad_message", "err", err)
				continue
			}
			deliver(m)
		}
	}
}

// Ready reports whether the underlying connection is up.
func (b *NATSBus) Ready() bool { return b.nc.IsConnected() }

// Close drains the subscription and closes the connection.
func (b *NATSBus) Close() error { return b.nc.Drain() }
