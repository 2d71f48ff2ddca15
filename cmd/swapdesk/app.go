package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapDesk/internal/chain"
	"swapDesk/internal/config"
	"swapDesk/internal/market"
	"swapDesk/internal/model"
	"swapDesk/internal/pipeline"
	"swapDesk/internal/session"
	"swapDesk/internal/wallet"
)

// app wires the packages for one command invocation.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	chain   *chain.Client
	guard   *market.Guard
	reader  *market.Reader
	wallet  wallet.Provider
	session *session.Manager
	orch    *pipeline.Orchestrator
	metaA   model.TokenMeta
	metaB   model.TokenMeta
	closers []func()
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		a.close()
		return nil, model.NewError(model.KindDataUnavailable, "connect rpc", err)
	}
	a.chain = chainClient
	a.closers = append(a.closers, chainClient.Close)

	a.guard = market.NewGuard(chainClient, market.GuardConfig{
		Rate:            cfg.ReadRate,
		Burst:           cfg.ReadBurst,
		Retries:         cfg.ReadRetries,
		Backoff:         cfg.ReadBackoff,
		BreakerFailures: cfg.BreakerFailures,
	}, logger)
	a.reader = market.NewReader(a.guard, cfg.Pair, logger)

	if a.metaA, err = a.reader.TokenMeta(ctx, cfg.TokenA); err != nil {
		a.close()
		return nil, err
	}
	if a.metaB, err = a.reader.TokenMeta(ctx, cfg.TokenB); err != nil {
		a.close()
		return nil, err
	}

	provider, err := a.openWallet(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.wallet = provider
	a.session = session.NewManager(provider, cfg.NetworkTarget(), logger, session.Options{
		ReconnectOnNetworkChange: cfg.Reconnect,
	})
	a.closers = append(a.closers, a.session.Close)

	var tx pipeline.Transactor
	if provider != nil {
		tx = pipeline.NewWalletTransactor(provider, chainClient, cfg.ReceiptPoll, logger)
	}
	a.orch = pipeline.NewOrchestrator(pipeline.Config{
		Pair:                 cfg.Pair,
		TokenA:               cfg.TokenA,
		TokenB:               cfg.TokenB,
		SymbolA:              a.metaA.Label(),
		SymbolB:              a.metaB.Label(),
		ConfirmTimeout:       cfg.ConfirmTimeout,
		SkipCoveredApprovals: cfg.SkipCoveredApprovals,
	}, a.session, a.reader, tx, logger)

	logger.Info("swapdesk ready",
		zap.String("rpc", cfg.RPCURL),
		zap.String("pair", cfg.Pair.Hex()),
		zap.String("token_a", a.metaA.Label()),
		zap.String("token_b", a.metaB.Label()),
		zap.Uint64("chain_id", cfg.ChainID),
		zap.Bool("wallet", provider != nil),
	)
	return a, nil
}

// openWallet picks the external wallet when configured, then the built-in
// private-key wallet. With neither, the provider is nil.
func (a *app) openWallet(ctx context.Context) (wallet.Provider, error) {
	switch {
	case a.cfg.WalletURL != "":
		remote, err := wallet.DialRemote(ctx, a.cfg.WalletURL, a.logger)
		if err != nil {
			return nil, model.NewError(model.KindNoWalletFound, "dial wallet", err)
		}
		a.closers = append(a.closers, remote.Close)
		return remote, nil

	case a.cfg.PrivateKey != "":
		homeRPC := a.cfg.WalletRPC
		if homeRPC == "" {
			homeRPC = a.cfg.RPCURL
		}
		home, err := chain.NewClient(ctx, homeRPC)
		if err != nil {
			return nil, fmt.Errorf("dial wallet rpc: %w", err)
		}
		id, err := home.GetChainID(ctx)
		home.Close()
		if err != nil {
			return nil, fmt.Errorf("wallet rpc chain id: %w", err)
		}

		local, err := wallet.NewLocal(a.cfg.PrivateKey, wallet.Network{
			ChainID: id.Uint64(),
			RPCURL:  homeRPC,
			Name:    "home",
		}, wallet.DialChain, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, local.Close)
		return local, nil

	default:
		return nil, nil
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// resolveAsset accepts "a", "b", a token symbol or a token address.
func (a *app) resolveAsset(input string) (common.Address, model.TokenMeta, error) {
	input = strings.TrimSpace(input)
	switch {
	case strings.EqualFold(input, "a"), strings.EqualFold(input, a.metaA.Symbol):
		return a.cfg.TokenA, a.metaA, nil
	case strings.EqualFold(input, "b"), strings.EqualFold(input, a.metaB.Symbol):
		return a.cfg.TokenB, a.metaB, nil
	case common.IsHexAddress(input):
		addr := common.HexToAddress(input)
		if addr == a.cfg.TokenA {
			return addr, a.metaA, nil
		}
		if addr == a.cfg.TokenB {
			return addr, a.metaB, nil
		}
	}
	return common.Address{}, model.TokenMeta{}, model.Errorf(model.KindInvalidInput, "asset", "%q is not one of the pair's assets", input)
}

func (a *app) metaFor(token common.Address) model.TokenMeta {
	if token == a.cfg.TokenB {
		return a.metaB
	}
	return a.metaA
}

// account returns the explicit --account, else the connected wallet account,
// else nil.
func (a *app) account(ctx context.Context, cmd *cobra.Command) (*common.Address, error) {
	if raw, _ := cmd.Flags().GetString("account"); raw != "" {
		addr, err := config.ParseAddress("account", raw)
		if err != nil {
			return nil, model.NewError(model.KindInvalidInput, "account", err)
		}
		return &addr, nil
	}
	if a.wallet == nil {
		return nil, nil
	}
	sess, err := a.session.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return sess.Account, nil
}
