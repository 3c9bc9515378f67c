// internal/stream/source.go
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Source is a websocket stream that reconnects with exponential backoff
// until it is closed.
type Source struct {
	*base

	feed     Feed
	cfg      Config
	endpoint string // redacted, for logs and errors
	dialer   *websocket.Dialer
	bo       *backoff.ExponentialBackOff

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewFeed returns the websocket feed decoder for kind.
func NewFeed(kind types.FeedKind, cfg Config) (Feed, error) {
	switch kind {
	case types.FeedBundle:
		return NewBundleFeed(), nil
	case types.FeedLogs:
		if len(cfg.Programs) == 0 {
			return nil, errors.New("log feed requires at least one program")
		}
		return NewLogFeed(cfg.Programs), nil
	default:
		return nil, fmt.Errorf("feed %q has no websocket transport", kind)
	}
}

// NewSource creates a source for feed. It does not connect until Run is called.
func NewSource(feed Feed, cfg Config, logger *zap.Logger, opts ...Option) (*Source, error) {
	cfg = cfg.withDefaults()

	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid stream endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid stream endpoint scheme %q: expected ws or wss", u.Scheme)
	}

	o := buildOptions(opts)
	dialer := o.dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	}

	logger = logger.Named("stream").With(zap.String("feed", string(feed.Kind())))

	return &Source{
		base:     newBase(feed.Kind(), logger, o),
		feed:     feed,
		cfg:      cfg,
		endpoint: redact(u),
		dialer:   dialer,
		bo:       newBackOff(cfg),
	}, nil
}

// Connect creates the source for kind and starts its connection loop in the
// background. The loop stops when ctx is done or the source is closed.
func Connect(ctx context.Context, kind types.FeedKind, cfg Config, logger *zap.Logger, opts ...Option) (*Source, error) {
	feed, err := NewFeed(kind, cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewSource(feed, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := s.Run(ctx); err != nil {
			s.logger.Error("Stream stopped", zap.Error(err))
		}
	}()

	return s, nil
}

// Run connects, subscribes and reads until ctx is done or Close is called.
// Connection failures never end the loop.
func (s *Source) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("stream source already running")
	}
	defer s.setState(StateDisconnected)

	s.logger.Info("Starting stream", zap.String("endpoint", s.endpoint))

	for {
		if s.stopped(ctx) {
			return nil
		}

		s.setState(StateConnecting)
		err := s.session(ctx)
		if s.stopped(ctx) {
			return nil
		}

		delay := s.bo.NextBackOff()
		s.logger.Warn("Stream connection lost, reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", delay))

		if !s.enterBackoff(ctx, delay) {
			return nil
		}
	}
}

// session runs a single connection until it fails.
func (s *Source) session(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	defer func() {
		close(stop)
		s.dropConn(conn)
	}()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		case <-stop:
		}
		_ = conn.Close()
	}()

	if err := s.subscribe(conn); err != nil {
		return err
	}

	s.bo.Reset()
	s.setState(StateConnected)
	s.logger.Info("Stream connected", zap.String("endpoint", s.endpoint))

	go s.pingLoop(conn, stop)

	return s.readLoop(conn)
}

func (s *Source) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := s.dialer.DialContext(dialCtx, s.cfg.Endpoint, nil)
	if err != nil {
		return nil, &types.ConnectionError{Endpoint: s.endpoint, Op: "dial", Err: err}
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed.Load() {
		_ = conn.Close()
		return nil, &types.ConnectionError{Endpoint: s.endpoint, Op: "dial", Err: types.ErrClosed}
	}
	s.conn = conn
	return conn, nil
}

func (s *Source) dropConn(conn *websocket.Conn) {
	s.connMu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connMu.Unlock()
	_ = conn.Close()
}

func (s *Source) subscribe(conn *websocket.Conn) error {
	for _, req := range s.feed.Requests() {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := conn.WriteJSON(req); err != nil {
			return &types.ConnectionError{
				Endpoint: s.endpoint,
				Op:       "subscribe",
				Err:      fmt.Errorf("%s: %w", req.Method, err),
			}
		}
		s.logger.Debug("Subscription sent",
			zap.String("method", req.Method),
			zap.Uint64("request_id", req.ID))
	}
	return nil
}

func (s *Source) readLoop(conn *websocket.Conn) error {
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	_ = extend()
	conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return &types.ConnectionError{Endpoint: s.endpoint, Op: "read", Err: err}
		}
		_ = extend()

		msg, err := s.feed.Decode(frame)
		if err != nil {
			s.logger.Warn("Discarding malformed frame", zap.Error(err))
			continue
		}
		if msg == nil {
			continue
		}
		s.deliver(msg)
	}
}

func (s *Source) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := s.clock.Ticker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("Ping failed", zap.Error(err))
				return
			}
		}
	}
}

// Close stops the source. It is idempotent; no handler is invoked after it returns.
func (s *Source) Close() error {
	if !s.markClosed() {
		return nil
	}

	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	s.drain()
	s.logger.Info("Stream closed")
	return nil
}

// redact drops credentials and the query string, which may carry an api key.
func redact(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	return c.String()
}
