// internal/stream/bundle_feed.go
package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// BundleFeed decodes a Jito style bundle stream.
type BundleFeed struct{}

// NewBundleFeed creates a bundle feed.
func NewBundleFeed() *BundleFeed {
	return &BundleFeed{}
}

func (f *BundleFeed) Kind() types.FeedKind {
	return types.FeedBundle
}

func (f *BundleFeed) Requests() []Request {
	return []Request{newRequest(1, "subscribeBundles")}
}

type bundleResult struct {
	BundleID     string   `json:"bundleId"`
	Transactions []string `json:"transactions"`
	Landed       bool     `json:"landed"`
	Slot         uint64   `json:"slot"`
}

func (f *BundleFeed) Decode(frame []byte) (*Message, error) {
	env, err := decodeFrame(types.FeedBundle, frame)
	if err != nil {
		return nil, err
	}
	if env.isAck() {
		return nil, nil
	}
	if env.Params == nil {
		return nil, malformed(types.FeedBundle, frame, errors.New("missing params"))
	}

	var res bundleResult
	if err := json.Unmarshal(env.Params.Result, &res); err != nil {
		return nil, malformed(types.FeedBundle, frame, err)
	}
	if res.BundleID == "" {
		return nil, malformed(types.FeedBundle, frame, errors.New("missing bundleId"))
	}

	events := make([]RawTransactionEvent, 0, len(res.Transactions))
	for _, sig := range res.Transactions {
		if !validSignature(sig) {
			return nil, malformed(types.FeedBundle, frame, fmt.Errorf("%w: %q", errBadSignature, sig))
		}
		events = append(events, RawTransactionEvent{
			Kind:      types.FeedBundle,
			Signature: sig,
			Slot:      res.Slot,
			BundleID:  res.BundleID,
		})
	}

	txs := res.Transactions
	if txs == nil {
		txs = []string{}
	}
	return &Message{
		Kind: types.FeedBundle,
		Bundle: &types.Bundle{
			BundleID:     res.BundleID,
			Transactions: txs,
			Landed:       res.Landed,
			Slot:         res.Slot,
		},
		Events: events,
	}, nil
}
