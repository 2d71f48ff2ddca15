package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// ReceiptSource is the subset of Client needed to wait for inclusion.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// WaitReceipt polls until the transaction is included and returns its receipt.
// It waits as long as ctx allows; not-found responses are expected while the
// transaction is pending. Other errors are tolerated up to maxErrors in a row.
func WaitReceipt(ctx context.Context, src ReceiptSource, hash common.Hash, interval time.Duration, maxErrors int, logger *zap.Logger) (*types.Receipt, error) {
	if src == nil {
		return nil, fmt.Errorf("receipt source is nil")
	}
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		receipt, err := src.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err == nil, errors.Is(err, ethereum.NotFound):
			failures = 0
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			logger.Warn("receipt fetch failed", zap.String("tx_hash", hash.Hex()), zap.Int("failures", failures), zap.Error(err))
			if failures > maxErrors {
				return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
