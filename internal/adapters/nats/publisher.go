package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// Subjects carried by the SCENE stream.
const (
	SubjectRuns         = "scene.runs"
	SubjectTransmitters = "scene.transmitters"
)

// TransmitterBatch is the payload published on scene.transmitters.<run_id>.
type TransmitterBatch struct {
	RunID        string               `json:"run_id"`
	Transmitters []domain.Transmitter `json:"transmitters"`
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
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

	return &Publisher{conn: conn, js: js}, nil
}

func ensureStreams(js nats.JetStreamContext) error {
	streams := []nats.StreamConfig{
		{
			Name:      "SCENE_RUNS",
			Subjects:  []string{SubjectRuns + ".>"},
			Retention: nats.InterestPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "SCENE_TRANSMITTERS",
			Subjects:  []string{SubjectTransmitters + ".>"},
			Retention: nats.WorkQueuePolicy,
			MaxAge:    7 * 24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

// PublishRunEvent announces a stage transition of a run.
func (p *Publisher) PublishRunEvent(ctx context.Context, ev *domain.RunEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectRuns+"."+ev.RunID, data, nats.Context(ctx))
	return err
}

// PublishTransmitters hands the transmitters of a run to the registry.
func (p *Publisher) PublishTransmitters(ctx context.Context, runID string, txs []domain.Transmitter) error {
	data, err := json.Marshal(TransmitterBatch{RunID: runID, Transmitters: txs})
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectTransmitters+"."+runID, data, nats.Context(ctx))
	return err
}

// Conn exposes the underlying connection, e.g. for the WebSocket relay.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
