package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSRelay shares envelopes over one NATS subject.
type NATSRelay struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSRelay connects to url with automatic reconnection.
func NewNATSRelay(url, subject string, logger *zap.Logger, opts ...nats.Option) (*NATSRelay, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == "" {
		subject = defaultRelayChannel
	}
	defaults := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	conn, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSRelay{conn: conn, subject: subject, logger: logger}, nil
}

// Publish sends envelope on the relay subject.
func (relay *NATSRelay) Publish(_ context.Context, envelope Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	return relay.conn.Publish(relay.subject, data)
}

// Subscribe registers on the relay subject and flushes so the interest is
// known to the server before returning.
func (relay *NATSRelay) Subscribe(_ context.Context) (<-chan Envelope, func(), error) {
	out := make(chan Envelope, relayStreamBuffer)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)

	sub, err := relay.conn.Subscribe(relay.subject, func(msg *nats.Msg) {
		var envelope Envelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			relay.logger.Warn("dropping malformed relay envelope", zap.Error(err))
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- envelope:
		default:
			relay.logger.Debug("relay stream full, envelope dropped", zap.String("room", envelope.Room))
		}
	})
	if err != nil {
		close(out)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", relay.subject, err)
	}
	if err := relay.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(out)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(out)
			mu.Unlock()
		})
	}
	return out, cancel, nil
}

// Close drops the connection.
func (relay *NATSRelay) Close() error {
	relay.conn.Close()
	return nil
}
