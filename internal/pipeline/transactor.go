package pipeline

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"swapDesk/internal/chain"
	"swapDesk/internal/wallet"
)

// Transactor submits a call as a transaction and waits for its inclusion.
type Transactor interface {
	Send(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error)
	Wait(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// WalletTransactor signs through the wallet and polls receipts from the node.
type WalletTransactor struct {
	provider  wallet.Provider
	receipts  chain.ReceiptSource
	poll      time.Duration
	maxErrors int
	logger    *zap.Logger
}

func NewWalletTransactor(provider wallet.Provider, receipts chain.ReceiptSource, poll time.Duration, logger *zap.Logger) *WalletTransactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WalletTransactor{
		provider:  provider,
		receipts:  receipts,
		poll:      poll,
		maxErrors: 5,
		logger:    logger,
	}
}

func (t *WalletTransactor) Send(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error) {
	var hash common.Hash
	err := t.provider.Request(ctx, wallet.MethodSendTransaction, &hash, wallet.TxArgs{
		From: from,
		To:   &to,
		Data: data,
	})
	return hash, err
}

func (t *WalletTransactor) Wait(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return chain.WaitReceipt(ctx, t.receipts, hash, t.poll, t.maxErrors, t.logger)
}
