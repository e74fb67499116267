// Package messaging publishes structured alert events over NATS for
// downstream consumers. The channel is optional and best-effort: a broker
// outage never blocks or fails the alert pipeline.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"sentry-worker-go/internal/config"
)

// Service wraps a NATS connection.
type Service struct {
	conn    *nats.Conn
	subject string
}

// NewService connects to the configured NATS server.
func NewService(cfg *config.Config) (*Service, error) {
	opts := []nats.Option{
		nats.Name("sentry-worker"),
		nats.Timeout(cfg.NatsConnectTimeout),
		nats.ReconnectWait(cfg.NatsReconnectWait),
		nats.MaxReconnects(cfg.NatsMaxReconnects),
	}

	conn, err := nats.Connect(cfg.NatsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NatsURL, err)
	}

	log.Info().Str("url", cfg.NatsURL).Str("subject", cfg.AlertsSubject).Msg("NATS connection established")

	return &Service{conn: conn, subject: cfg.AlertsSubject}, nil
}

// PublishAlert serializes the event as JSON onto the alerts subject.
func (s *Service) PublishAlert(event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode alert event: %w", err)
	}
	return s.conn.Publish(s.subject, payload)
}

// IsConnected reports connection health.
func (s *Service) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Shutdown drains the connection, falling back to an immediate close.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.conn != nil {
		if err := s.conn.Drain(); err != nil {
			log.Warn().Err(err).Msg("Failed to drain NATS connection gracefully, closing immediately")
			s.conn.Close()
		}
	}
	return nil
}
