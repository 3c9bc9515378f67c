// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/mev-detector/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/mev-detector/internal/types"
)

// Client is a thin adapter over the node pool for the reads the detector needs.
type Client struct {
	pool   *rpc.Pool
	logger *zap.Logger
}

// NewClient creates a client over pool.
func NewClient(pool *rpc.Pool, logger *zap.Logger) *Client {
	return &Client{
		pool:   pool,
		logger: logger.Named("solbc-client"),
	}
}

// FetchTransaction loads a confirmed transaction. It returns (nil, nil) when
// the node has no record of the signature.
func (c *Client) FetchTransaction(ctx context.Context, signature string) (*types.RawTransaction, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	maxVersion := uint64(0)
	var result *solanarpc.GetTransactionResult

	err = c.pool.Execute(ctx, "getTransaction", func(ctx context.Context, node *rpc.NodeClient) error {
		var err error
		result, err = node.Client.GetTransaction(ctx, sig, &solanarpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     solanarpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) {
		c.logger.Debug("Transaction not found", zap.String("signature", signature))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if result == nil || result.Transaction == nil {
		return nil, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("%w: decode transaction: %w", rpc.ErrInvalidResponse, err)
	}

	raw := Convert(signature, result.Slot, tx, result.Meta)
	if result.BlockTime != nil {
		raw.BlockTime = result.BlockTime.Time()
	}
	return raw, nil
}

// GetSignatures lists the most recent confirmed signatures that mention program,
// newest first.
func (c *Client) GetSignatures(ctx context.Context, program string, limit int) ([]types.SignatureInfo, error) {
	account, err := solana.PublicKeyFromBase58(program)
	if err != nil {
		return nil, fmt.Errorf("invalid program id %q: %w", program, err)
	}

	var out []*solanarpc.TransactionSignature
	err = c.pool.Execute(ctx, "getSignaturesForAddress", func(ctx context.Context, node *rpc.NodeClient) error {
		var err error
		out, err = node.Client.GetSignaturesForAddressWithOpts(ctx, account, &solanarpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: solanarpc.CommitmentConfirmed,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	infos := make([]types.SignatureInfo, 0, len(out))
	for _, s := range out {
		if s == nil {
			continue
		}
		info := types.SignatureInfo{
			Signature: s.Signature.String(),
			Slot:      s.Slot,
			Failed:    s.Err != nil,
		}
		if s.BlockTime != nil {
			info.BlockTime = s.BlockTime.Time()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Pool exposes the underlying node pool.
func (c *Client) Pool() *rpc.Pool {
	return c.pool
}
