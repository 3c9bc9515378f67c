// internal/sink/nats.go
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/config"
	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// streamMaxAge is how long detections stay in the JetStream stream.
const streamMaxAge = 24 * time.Hour

// publisher is the part of nats.JetStreamContext the sink uses.
type publisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATS publishes detections to a JetStream stream under
// <subject>.sandwich and <subject>.arbitrage.
type NATS struct {
	conn    *nats.Conn
	js      publisher
	subject string
	logger  *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewNATS connects to cfg.URL and creates the stream when it does not exist.
func NewNATS(cfg config.NATSConfig, logger *zap.Logger) (*NATS, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url,
		nats.Name("mev-detector"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		logger.Info("Creating JetStream stream",
			zap.String("stream", cfg.Stream),
			zap.String("subject", cfg.Subject))

		_, err = js.AddStream(&nats.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{cfg.Subject + ".>"},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			MaxAge:    streamMaxAge,
			Replicas:  1,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create stream %s: %w", cfg.Stream, err)
		}
	}

	s := newNATS(js, cfg.Subject, logger)
	s.conn = conn
	return s, nil
}

func newNATS(js publisher, subject string, logger *zap.Logger) *NATS {
	return &NATS{
		js:      js,
		subject: subject,
		logger:  logger.Named("nats"),
	}
}

func (s *NATS) Name() string { return "nats" }

// Subject returns the subject d is published on.
func (s *NATS) Subject(d types.Detection) string {
	return s.subject + "." + string(d.Kind)
}

// WriteDetection publishes d. The message id lets JetStream drop duplicates.
func (s *NATS) WriteDetection(ctx context.Context, d types.Detection) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("NATS connection is closed")
	}

	data, err := encode(d)
	if err != nil {
		return fmt.Errorf("failed to marshal detection: %w", err)
	}

	subject := s.Subject(d)
	if _, err := s.js.Publish(subject, data,
		nats.MsgId(string(d.Kind)+":"+d.Key()),
		nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	s.logger.Debug("Detection published",
		zap.String("subject", subject),
		zap.String("signature", d.Key()))
	return nil
}

func (s *NATS) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		if err := s.conn.Drain(); err != nil {
			s.conn.Close()
			return fmt.Errorf("failed to drain NATS connection: %w", err)
		}
	}
	return nil
}
