package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// TransmitterHandler stores one run's transmitters.
type TransmitterHandler func(ctx context.Context, runID string, txs []domain.Transmitter) error

// Subscriber consumes scene events from NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := ensureStreams(js); err != nil {
		conn.Close()
		return nil, err
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeTransmitters feeds every published transmitter batch to handler
// through a durable consumer. Failed batches are redelivered up to 3 times.
func (s *Subscriber) SubscribeTransmitters(ctx context.Context, handler TransmitterHandler) error {
	sub, err := s.js.Subscribe(SubjectTransmitters+".>", func(msg *nats.Msg) {
		var batch TransmitterBatch
		if err := json.Unmarshal(msg.Data, &batch); err != nil {
			slog.Warn("dropping malformed transmitter batch", "subject", msg.Subject, "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, batch.RunID, batch.Transmitters); err != nil {
			slog.Warn("transmitter batch failed", "run_id", batch.RunID, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable("transmitter-registry"),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
