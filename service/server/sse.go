package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/nftvault/service/metrics"
	natspkg "github.com/brojonat/nftvault/service/nats"
	"github.com/brojonat/nftvault/service/txn"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const sseKeepalive = 10 * time.Second

// StateSource delivers a wallet's transaction-state updates until ctx is
// done. A source may close the channel to end the stream early.
type StateSource interface {
	Watch(ctx context.Context, wallet string) (<-chan txn.State, error)
}

// NATSSource streams state events from the TX_STATE JetStream stream.
type NATSSource struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewNATSSource connects to NATS for SSE streaming.
func NewNATSSource(natsURL string, logger *slog.Logger) (*NATSSource, error) {
	nc, js, err := natspkg.Connect(natsURL, "nftvault-sse")
	if err != nil {
		return nil, err
	}
	logger.Info("SSE source initialized", "nats_url", natsURL)
	return &NATSSource{nc: nc, js: js, logger: logger}, nil
}

// Watch creates an ephemeral consumer for wallet's subject.
func (s *NATSSource) Watch(ctx context.Context, wallet string) (<-chan txn.State, error) {
	cons, err := s.js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: natspkg.Subject(wallet),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	out := make(chan txn.State, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		defer msg.Ack()
		var event natspkg.StateEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			s.logger.WarnContext(ctx, "failed to unmarshal state event", "error", err)
			return
		}
		select {
		case out <- event.State():
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
	}()
	return out, nil
}

// Close closes the NATS connection.
func (s *NATSSource) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("SSE source closed")
	}
	return nil
}

// orchestratorSource streams state straight from the in-process
// orchestrator. It is used when NATS is not configured.
type orchestratorSource struct {
	orch *txn.Orchestrator
}

func (s orchestratorSource) Watch(ctx context.Context, wallet string) (<-chan txn.State, error) {
	out := make(chan txn.State, 10)
	updates := make(chan txn.State, 32)
	unsubscribe := s.orch.Subscribe(func(prev, next txn.State) {
		select {
		case updates <- next:
		default:
		}
	})

	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case st := <-updates:
				select {
				case out <- st:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// handleStreamTx streams the wallet's transaction state as Server-Sent
// Events. The current state is sent first.
// GET /api/v1/stream/tx
func handleStreamTx(source StateSource, orch *txn.Orchestrator, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet := orch.Wallet().PublicKey().String()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		updates, err := source.Watch(ctx, wallet)
		if err != nil {
			logger.ErrorContext(ctx, "failed to watch state", "wallet", wallet, "error", err)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		m.RecordSSEConnectionChange(wallet, 1)
		defer m.RecordSSEConnectionChange(wallet, -1)

		logger.DebugContext(ctx, "SSE client connected", "wallet", wallet, "remote_addr", r.RemoteAddr)

		fmt.Fprintf(w, "event: connected\ndata: {\"wallet\":%q}\n\n", wallet)
		writeStateEvent(w, orch.State())
		flush(w)

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush(w)

			case st, ok := <-updates:
				if !ok {
					return
				}
				if err := writeStateEvent(w, st); err != nil {
					logger.WarnContext(ctx, "failed to write state event", "error", err)
					continue
				}
				flush(w)
				m.RecordSSEEventSent(wallet, string(st.Status))

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected", "wallet", wallet, "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}

func writeStateEvent(w http.ResponseWriter, st txn.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
	return err
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
