// internal/stream/poller.go
package stream

import (
	"context"
	"errors"
	"sort"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// SignatureLister lists recent signatures for a program, newest first.
type SignatureLister interface {
	GetSignatures(ctx context.Context, program string, limit int) ([]types.SignatureInfo, error)
}

// Poller emits unseen program signatures by polling an RPC node. It is the
// fallback for endpoints without websocket subscriptions.
type Poller struct {
	*base

	lister SignatureLister
	cfg    Config
	bo     *backoff.ExponentialBackOff
	seen   *seenSet
}

// NewPoller creates a poller over cfg.Programs.
func NewPoller(lister SignatureLister, cfg Config, logger *zap.Logger, opts ...Option) (*Poller, error) {
	if lister == nil {
		return nil, errors.New("poller requires a signature lister")
	}
	if len(cfg.Programs) == 0 {
		return nil, errors.New("poller requires at least one program")
	}
	cfg = cfg.withDefaults()

	capacity := cfg.PollLimit * len(cfg.Programs) * 4
	if capacity < 1024 {
		capacity = 1024
	}

	return &Poller{
		base:   newBase(types.FeedPoll, logger.Named("poller"), buildOptions(opts)),
		lister: lister,
		cfg:    cfg,
		bo:     newBackOff(cfg),
		seen:   newSeenSet(capacity),
	}, nil
}

// Run polls every PollInterval until ctx is done or Close is called.
func (p *Poller) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("poller already running")
	}
	defer p.setState(StateDisconnected)

	p.logger.Info("Starting poller",
		zap.Int("programs", len(p.cfg.Programs)),
		zap.Duration("interval", p.cfg.PollInterval))

	p.setState(StateConnecting)
	for {
		err := p.poll(ctx)
		if p.stopped(ctx) {
			return nil
		}

		if err != nil {
			delay := p.bo.NextBackOff()
			p.logger.Warn("Signature poll failed, backing off",
				zap.Error(err),
				zap.Duration("retry_in", delay))
			if !p.enterBackoff(ctx, delay) {
				return nil
			}
			p.setState(StateConnecting)
			continue
		}

		p.bo.Reset()
		p.setState(StateConnected)
		if !p.wait(ctx, p.cfg.PollInterval) {
			return nil
		}
	}
}

// poll lists every program once and delivers unseen signatures oldest first.
// Signatures gathered before a failure are still delivered.
func (p *Poller) poll(ctx context.Context) error {
	var (
		batch   []RawTransactionEvent
		pollErr error
	)

	for _, program := range p.cfg.Programs {
		sigs, err := p.lister.GetSignatures(ctx, program, p.cfg.PollLimit)
		if err != nil {
			pollErr = &types.ConnectionError{Endpoint: program, Op: "getSignaturesForAddress", Err: err}
			break
		}
		for i := len(sigs) - 1; i >= 0; i-- {
			info := sigs[i]
			if !p.seen.add(info.Signature) {
				continue
			}
			batch = append(batch, RawTransactionEvent{
				Kind:      types.FeedPoll,
				Signature: info.Signature,
				Slot:      info.Slot,
				Program:   program,
				Failed:    info.Failed,
			})
		}
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Slot < batch[j].Slot
	})

	if len(batch) > 0 {
		p.logger.Debug("Polled new signatures", zap.Int("count", len(batch)))
		p.deliver(&Message{Kind: types.FeedPoll, Events: batch})
	}
	return pollErr
}

// Close stops the poller. It is idempotent.
func (p *Poller) Close() error {
	if !p.markClosed() {
		return nil
	}
	p.drain()
	p.logger.Info("Poller closed")
	return nil
}

// seenSet is a bounded FIFO set of signatures.
type seenSet struct {
	index map[string]struct{}
	order []string
	next  int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		index: make(map[string]struct{}, capacity),
		order: make([]string, 0, capacity),
	}
}

// add reports whether sig was not seen before.
func (s *seenSet) add(sig string) bool {
	if _, ok := s.index[sig]; ok {
		return false
	}
	if len(s.order) < cap(s.order) {
		s.order = append(s.order, sig)
	} else {
		delete(s.index, s.order[s.next])
		s.order[s.next] = sig
		s.next = (s.next + 1) % len(s.order)
	}
	s.index[sig] = struct{}{}
	return true
}
