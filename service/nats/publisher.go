package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/nftvault/service/metrics"
	"github.com/brojonat/nftvault/service/txn"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher publishes transaction-state events.
type Publisher interface {
	// Publish publishes a single event to "txstate.{wallet}".
	Publish(ctx context.Context, event *StateEvent) error

	// PublishState publishes an orchestrator state update for wallet.
	PublishState(ctx context.Context, wallet string, state txn.State) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes state events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for transaction state.
	StreamName = "TX_STATE"

	// SubjectPrefix prefixes the wallet address in event subjects.
	SubjectPrefix = "txstate."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "txstate.*"

	// StreamRetention is how long messages are retained.
	StreamRetention = 24 * time.Hour
)

// Connect dials NATS with the reconnect policy shared by publishers and
// subscribers.
func Connect(natsURL, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return nc, js, nil
}

// NewPublisher connects to NATS and ensures the stream exists.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, js, err := Connect(natsURL, "nftvault-publisher")
	if err != nil {
		return nil, err
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Vault transaction state updates",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	if _, err := p.js.CreateStream(ctx, streamConfig); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// Publish publishes a single state event.
func (p *JetStreamPublisher) Publish(ctx context.Context, event *StateEvent) error {
	subject := Subject(event.Wallet)
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal state event: %w", err)
	}

	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		p.metrics.RecordNATSPublish(StreamSubjects, "error", time.Since(start).Seconds())
		return fmt.Errorf("failed to publish state event: %w", err)
	}
	p.metrics.RecordNATSPublish(StreamSubjects, "success", time.Since(start).Seconds())

	p.logger.Debug("published state event",
		"subject", subject,
		"status", event.Status,
		"operation", event.Operation,
	)
	return nil
}

// PublishState implements txn.StatePublisher.
func (p *JetStreamPublisher) PublishState(ctx context.Context, wallet string, state txn.State) error {
	return p.Publish(ctx, FromState(wallet, state))
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
