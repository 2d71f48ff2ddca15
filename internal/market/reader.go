// Package market reads pair state: reserves, LP share balances and token
// ordering. Reads need only a chain caller, never a wallet session.
package market

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swapDesk/internal/dex"
	"swapDesk/internal/metrics"
	"swapDesk/internal/model"
)

// View is one refresh of pair state. Every field comes from the same refresh,
// except when Stale is set and the previous good view is being shown.
type View struct {
	Reserves model.ReserveSnapshot
	Account  *common.Address
	Share    *big.Int
	Stale    bool
	ReadAt   time.Time
}

// Reader reads one pair contract.
type Reader struct {
	caller dex.Caller
	pair   common.Address
	logger *zap.Logger
	meta   *dex.TokenMetaCache
	now    func() time.Time

	mu     sync.Mutex
	tokens *[2]common.Address
	last   *View
}

// NewReader builds a reader for pair. Wrap caller in a Guard to bound load.
func NewReader(caller dex.Caller, pair common.Address, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		caller: caller,
		pair:   pair,
		logger: logger,
		meta:   dex.NewTokenMetaCache(),
		now:    time.Now,
	}
}

// Pair returns the pair address.
func (r *Reader) Pair() common.Address {
	return r.pair
}

// ReadReserves performs one getReserves call.
func (r *Reader) ReadReserves(ctx context.Context) (model.ReserveSnapshot, error) {
	values, err := r.call(ctx, r.pair, "getReserves")
	if err != nil {
		return model.ReserveSnapshot{}, err
	}
	if len(values) < 3 {
		return model.ReserveSnapshot{}, model.Errorf(model.KindDataUnavailable, "getReserves", "expected 3 values, got %d", len(values))
	}

	reserve0, err := dex.AsBigInt(values[0])
	if err != nil {
		return model.ReserveSnapshot{}, model.NewError(model.KindDataUnavailable, "getReserves", err)
	}
	reserve1, err := dex.AsBigInt(values[1])
	if err != nil {
		return model.ReserveSnapshot{}, model.NewError(model.KindDataUnavailable, "getReserves", err)
	}
	ts, err := dex.AsBigInt(values[2])
	if err != nil {
		return model.ReserveSnapshot{}, model.NewError(model.KindDataUnavailable, "getReserves", err)
	}

	return model.ReserveSnapshot{
		Reserve0:           reserve0,
		Reserve1:           reserve1,
		BlockTimestampLast: uint32(ts.Uint64()),
	}, nil
}

// ReadShareBalance returns the pool-share token balance of account.
func (r *Reader) ReadShareBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	values, err := r.call(ctx, r.pair, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	balance, err := dex.AsBigInt(values[0])
	if err != nil {
		return nil, model.NewError(model.KindDataUnavailable, "balanceOf", err)
	}
	return balance, nil
}

// ReadTokenBalance returns the ERC20 balance of account for token.
func (r *Reader) ReadTokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	parsed, err := dex.ERC20ABI()
	if err != nil {
		return nil, err
	}
	values, err := r.callABI(ctx, token, parsed, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	balance, err := dex.AsBigInt(values[0])
	if err != nil {
		return nil, model.NewError(model.KindDataUnavailable, "balanceOf", err)
	}
	return balance, nil
}

// ReadAllowance returns how much of owner's token spender may move.
func (r *Reader) ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	parsed, err := dex.ERC20ABI()
	if err != nil {
		return nil, err
	}
	values, err := r.callABI(ctx, token, parsed, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	allowance, err := dex.AsBigInt(values[0])
	if err != nil {
		return nil, model.NewError(model.KindDataUnavailable, "allowance", err)
	}
	return allowance, nil
}

// Refresh reads reserves and, when account is set, its share balance
// concurrently. On failure the last good view is returned marked stale,
// together with a DataUnavailable error.
func (r *Reader) Refresh(ctx context.Context, account *common.Address) (View, error) {
	var (
		reserves model.ReserveSnapshot
		share    *big.Int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		reserves, err = r.ReadReserves(gctx)
		return err
	})
	if account != nil {
		acc := *account
		g.Go(func() error {
			var err error
			share, err = r.ReadShareBalance(gctx, acc)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		metrics.StaleViews.Inc()
		r.logger.Warn("refresh failed, keeping last view", zap.Error(err))

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.last == nil {
			return View{Stale: true}, err
		}
		stale := copyView(*r.last)
		stale.Stale = true
		return stale, err
	}

	view := View{Reserves: reserves, Share: share, ReadAt: r.now()}
	if account != nil {
		acc := *account
		view.Account = &acc
	}

	r.mu.Lock()
	stored := copyView(view)
	r.last = &stored
	r.mu.Unlock()

	return view, nil
}

// Last returns the last good view, if any.
func (r *Reader) Last() (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return View{}, false
	}
	return copyView(*r.last), true
}

// Tokens returns the pair's token0 and token1. They never change for a pair,
// so they are read once.
func (r *Reader) Tokens(ctx context.Context) (common.Address, common.Address, error) {
	r.mu.Lock()
	cached := r.tokens
	r.mu.Unlock()
	if cached != nil {
		return cached[0], cached[1], nil
	}

	var token0, token1 common.Address
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		token0, err = r.readAddress(gctx, "token0")
		return err
	})
	g.Go(func() error {
		var err error
		token1, err = r.readAddress(gctx, "token1")
		return err
	})
	if err := g.Wait(); err != nil {
		return common.Address{}, common.Address{}, err
	}

	r.mu.Lock()
	r.tokens = &[2]common.Address{token0, token1}
	r.mu.Unlock()
	return token0, token1, nil
}

// Token0 returns the pair's first asset.
func (r *Reader) Token0(ctx context.Context) (common.Address, error) {
	token0, _, err := r.Tokens(ctx)
	return token0, err
}

// TokenMeta returns display metadata for token, cached after the first read.
func (r *Reader) TokenMeta(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	if meta, ok := r.meta.Get(token); ok {
		return meta, nil
	}
	meta, err := dex.FetchTokenMeta(ctx, r.caller, token, r.logger)
	if err != nil {
		metrics.ReadsTotal.WithLabelValues("token_meta", "error").Inc()
		return meta, model.NewError(model.KindDataUnavailable, "token metadata", err)
	}
	metrics.ReadsTotal.WithLabelValues("token_meta", "ok").Inc()
	r.meta.Set(token, meta)
	return meta, nil
}

func (r *Reader) readAddress(ctx context.Context, method string) (common.Address, error) {
	values, err := r.call(ctx, r.pair, method)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := dex.AsAddress(values[0])
	if err != nil {
		return common.Address{}, model.NewError(model.KindDataUnavailable, method, err)
	}
	return addr, nil
}

func (r *Reader) call(ctx context.Context, target common.Address, method string, args ...interface{}) ([]interface{}, error) {
	parsed, err := dex.PairABI()
	if err != nil {
		return nil, err
	}
	return r.callABI(ctx, target, parsed, method, args...)
}

func (r *Reader) callABI(ctx context.Context, target common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	values, err := dex.Call(ctx, r.caller, target, parsed, method, nil, args...)
	if err != nil {
		metrics.ReadsTotal.WithLabelValues(method, "error").Inc()
		return nil, model.NewError(model.KindDataUnavailable, method, err)
	}
	if len(values) == 0 {
		metrics.ReadsTotal.WithLabelValues(method, "error").Inc()
		return nil, model.NewError(model.KindDataUnavailable, method, fmt.Errorf("empty result"))
	}
	metrics.ReadsTotal.WithLabelValues(method, "ok").Inc()
	return values, nil
}

func copyView(v View) View {
	out := View{Reserves: v.Reserves.Copy(), Stale: v.Stale, ReadAt: v.ReadAt}
	if v.Account != nil {
		acc := *v.Account
		out.Account = &acc
	}
	if v.Share != nil {
		out.Share = new(big.Int).Set(v.Share)
	}
	return out
}
