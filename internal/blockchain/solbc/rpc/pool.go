// internal/blockchain/solbc/rpc/pool.go
package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// NewPool creates a pool with one client per configured URL.
func NewPool(cfg Config, logger *zap.Logger) (*Pool, error) {
	if len(cfg.URLs) == 0 {
		return nil, ErrNoActiveClients
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = RetryDelay
	}

	clients := make([]*NodeClient, 0, len(cfg.URLs))
	for _, u := range cfg.URLs {
		c, err := NewClient(u, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}

	delay := cfg.RetryDelay
	return &Pool{
		clients:    clients,
		logger:     logger.Named("rpc-pool"),
		timeout:    cfg.Timeout,
		maxRetries: cfg.MaxRetries,
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = delay
			bo.MaxInterval = delay * 10
			return bo
		},
		currIndex: -1,
	}, nil
}

// GetNextClient returns the next active client. When every node has been
// taken out of rotation they are all reactivated.
func (p *Pool) GetNextClient() *NodeClient {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for i := 0; i < len(p.clients); i++ {
		p.currIndex = (p.currIndex + 1) % len(p.clients)
		if c := p.clients[p.currIndex]; c.IsActive() {
			return c
		}
	}

	p.logger.Warn("All RPC nodes inactive, reactivating", zap.Int("nodes", len(p.clients)))
	for _, c := range p.clients {
		c.SetActive(true)
	}
	p.currIndex = (p.currIndex + 1) % len(p.clients)
	return p.clients[p.currIndex]
}

// HasActiveClients reports whether any node is in rotation.
func (p *Pool) HasActiveClients() bool {
	for _, client := range p.clients {
		if client.IsActive() {
			return true
		}
	}
	return false
}

// Execute runs operation against successive nodes until it succeeds, fails
// permanently or the retry budget is spent. Every error is returned as *Error.
func (p *Pool) Execute(ctx context.Context, method string, operation func(context.Context, *NodeClient) error) error {
	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		client := p.GetNextClient()

		reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
		start := time.Now()
		err := operation(reqCtx, client)
		cancel()
		client.UpdateMetrics(err == nil, time.Since(start))

		if err == nil {
			return struct{}{}, nil
		}

		err = NewError(classify(err), client.URL, method)
		if IsCriticalError(err) {
			client.SetActive(false)
			p.logger.Warn("Node taken out of rotation",
				zap.String("url", client.URL),
				zap.Error(err))
		}
		if !IsRetryableError(err) || ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		p.logger.Debug("RPC request failed, trying next node",
			zap.String("method", method),
			zap.String("url", client.URL),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(p.maxRetries))
	if err != nil && !errors.As(err, new(*Error)) {
		// context errors raised by Retry itself
		return NewError(classify(err), "", method)
	}
	return err
}

// Stats returns per node counters.
func (p *Pool) Stats() []NodeStats {
	out := make([]NodeStats, 0, len(p.clients))
	for _, c := range p.clients {
		out = append(out, c.stats())
	}
	return out
}

// Len returns the number of configured nodes.
func (p *Pool) Len() int {
	return len(p.clients)
}
