package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"swapDesk/internal/metrics"
	"swapDesk/internal/model"
	"swapDesk/internal/quote"
	"swapDesk/internal/wallet"
)

const (
	ActionAddLiquidity = "add_liquidity"
	ActionSwap         = "swap"
)

// ErrBusy is returned when a pipeline is started while another is running.
var ErrBusy = errors.New("another pipeline is running")

// SessionSource exposes the current wallet session.
type SessionSource interface {
	Session() model.Session
}

// MarketSource is the pair state the orchestrator reads before and during runs.
type MarketSource interface {
	ReadReserves(ctx context.Context) (model.ReserveSnapshot, error)
	Tokens(ctx context.Context) (common.Address, common.Address, error)
	ReadAllowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// Config names the pair and its two assets.
type Config struct {
	Pair    common.Address
	TokenA  common.Address
	TokenB  common.Address
	SymbolA string
	SymbolB string
	// ConfirmTimeout bounds each receipt wait. Zero waits indefinitely.
	ConfirmTimeout time.Duration
	// SkipCoveredApprovals confirms an approve step without submitting it
	// when the on-chain allowance already covers the amount.
	SkipCoveredApprovals bool
}

// Orchestrator builds and runs add-liquidity and swap pipelines.
type Orchestrator struct {
	cfg     Config
	session SessionSource
	market  MarketSource
	tx      Transactor
	logger  *zap.Logger

	mu        sync.Mutex
	current   *Pipeline
	observer  Observer
	onSuccess func(ctx context.Context, account common.Address)
}

func NewOrchestrator(cfg Config, session SessionSource, market MarketSource, tx Transactor, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SymbolA == "" {
		cfg.SymbolA = "token A"
	}
	if cfg.SymbolB == "" {
		cfg.SymbolB = "token B"
	}
	return &Orchestrator{
		cfg:     cfg,
		session: session,
		market:  market,
		tx:      tx,
		logger:  logger,
	}
}

// OnProgress sets the observer for pipelines started after the call.
func (o *Orchestrator) OnProgress(fn Observer) {
	o.mu.Lock()
	o.observer = fn
	o.mu.Unlock()
}

// OnSuccess sets a hook run after a pipeline succeeds, typically a reserve refresh.
func (o *Orchestrator) OnSuccess(fn func(ctx context.Context, account common.Address)) {
	o.mu.Lock()
	o.onSuccess = fn
	o.mu.Unlock()
}

// Current returns the most recent pipeline, if any.
func (o *Orchestrator) Current() *Pipeline {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Abandon abandons the running pipeline, if there is one.
func (o *Orchestrator) Abandon() {
	if p := o.Current(); p != nil {
		p.Abandon()
	}
}

// AddLiquidity approves and transfers both assets to the pair, then mints
// pool shares to the session account.
func (o *Orchestrator) AddLiquidity(ctx context.Context, amountA, amountB *big.Int) (*Pipeline, error) {
	from, err := o.preconditions(amountA, amountB)
	if err != nil {
		return nil, err
	}

	steps := []Step{
		o.approveStep(o.cfg.TokenA, o.cfg.SymbolA, amountA),
		o.approveStep(o.cfg.TokenB, o.cfg.SymbolB, amountB),
		o.transferStep(o.cfg.TokenA, o.cfg.SymbolA, amountA),
		o.transferStep(o.cfg.TokenB, o.cfg.SymbolB, amountB),
		{
			Kind:   StepMint,
			Label:  "mint pool shares",
			Target: o.cfg.Pair,
			Method: "mint",
			Args:   []interface{}{from},
		},
	}
	p, err := o.start(ActionAddLiquidity, steps)
	if err != nil {
		return nil, err
	}
	return p, o.run(ctx, p, from)
}

// Quote reads a fresh snapshot and prices amountIn of inputAsset against it.
func (o *Orchestrator) Quote(ctx context.Context, inputAsset common.Address, amountIn *big.Int) (model.Quote, error) {
	snapshot, err := o.market.ReadReserves(ctx)
	if err != nil {
		metrics.QuotesTotal.WithLabelValues("error").Inc()
		return model.Quote{}, err
	}
	token0, token1, err := o.market.Tokens(ctx)
	if err != nil {
		metrics.QuotesTotal.WithLabelValues("error").Inc()
		return model.Quote{}, err
	}
	q, err := quote.ForSwap(snapshot, token0, token1, inputAsset, amountIn)
	if err != nil {
		metrics.QuotesTotal.WithLabelValues("error").Inc()
		return model.Quote{}, err
	}
	metrics.QuotesTotal.WithLabelValues("ok").Inc()
	return q, nil
}

// Swap sells amountIn of inputAsset. The output amount is quoted once from a
// fresh snapshot and passed to the pair as is; no minimum output is enforced.
func (o *Orchestrator) Swap(ctx context.Context, inputAsset common.Address, amountIn *big.Int) (*Pipeline, error) {
	from, err := o.preconditions(amountIn)
	if err != nil {
		return nil, err
	}
	symbol, ok := o.symbolOf(inputAsset)
	if !ok {
		return nil, model.Errorf(model.KindInvalidInput, "swap", "asset %s is not in the pair", inputAsset.Hex())
	}

	steps := []Step{
		o.approveStep(inputAsset, symbol, amountIn),
		o.transferStep(inputAsset, symbol, amountIn),
		{
			Kind:   StepSwap,
			Label:  "swap " + symbol,
			Asset:  symbol,
			Target: o.cfg.Pair,
			Method: "swap",
		},
	}
	p, err := o.start(ActionSwap, steps)
	if err != nil {
		return nil, err
	}

	q, err := o.Quote(ctx, inputAsset, amountIn)
	if err != nil {
		p.fail(0, err)
		o.finish(p)
		return p, err
	}
	if q.OutputAmount.Sign() == 0 {
		err := model.Errorf(model.KindInvalidInput, "quote", "amount %s yields no output", amountIn)
		p.fail(0, err)
		o.finish(p)
		return p, err
	}

	amount0Out, amount1Out := quote.SwapOutputs(q)
	p.setArgs(len(steps)-1, amount0Out, amount1Out, from, []byte{})
	o.logger.Info("swap quoted",
		zap.String("input", inputAsset.Hex()),
		zap.String("amount_in", amountIn.String()),
		zap.String("amount_out", q.OutputAmount.String()),
		zap.Bool("input_is_token0", q.InputIsToken0),
	)

	return p, o.run(ctx, p, from)
}

func (o *Orchestrator) preconditions(amounts ...*big.Int) (common.Address, error) {
	sess := o.session.Session()
	if !sess.Connected || sess.Account == nil {
		return common.Address{}, model.ErrNotConnected
	}
	for _, amount := range amounts {
		if amount == nil || amount.Sign() <= 0 {
			return common.Address{}, model.Errorf(model.KindInvalidInput, "", "amount must be positive")
		}
	}
	return *sess.Account, nil
}

// sessionHolds reports NotConnected once the session that started the
// pipeline is gone or has moved to another account.
func (o *Orchestrator) sessionHolds(from common.Address, label string) error {
	sess := o.session.Session()
	if !sess.Connected || sess.Account == nil {
		return model.Errorf(model.KindNotConnected, label, "wallet session ended")
	}
	if *sess.Account != from {
		return model.Errorf(model.KindNotConnected, label, "wallet account changed to %s", sess.Account.Hex())
	}
	return nil
}

func (o *Orchestrator) start(action string, steps []Step) (*Pipeline, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != nil && !o.current.State().Terminal() {
		return nil, ErrBusy
	}
	p := New(action, steps, o.observer)
	o.current = p
	return p, nil
}

func (o *Orchestrator) run(ctx context.Context, p *Pipeline, from common.Address) error {
	defer o.finish(p)

	for i := 0; i < p.stepCount(); i++ {
		if !p.begin(i) {
			return p.State().Reason
		}
		step := p.step(i)

		if o.cfg.SkipCoveredApprovals && step.Kind == StepApprove && o.approvalCovered(ctx, from, step) {
			if !p.confirm(i, true) {
				return p.State().Reason
			}
			metrics.StepsTotal.WithLabelValues(p.Action(), step.Kind.String(), "skipped").Inc()
			o.logger.Info("approval already covered", zap.String("step", step.Label))
			continue
		}

		if err := o.execute(ctx, p, i, step, from); err != nil {
			if errors.Is(err, ErrAbandoned) {
				o.logger.Info("pipeline abandoned before submission", zap.String("label", step.Label))
				return err
			}
			metrics.StepsTotal.WithLabelValues(p.Action(), step.Kind.String(), "failed").Inc()
			if !p.fail(i, err) {
				return p.State().Reason
			}
			o.logger.Warn("pipeline step failed",
				zap.String("action", p.Action()),
				zap.Int("step", i),
				zap.String("label", step.Label),
				zap.Error(err),
			)
			return err
		}
		if !p.confirm(i, false) {
			o.logger.Info("step outcome ignored, pipeline abandoned", zap.String("label", step.Label))
			return p.State().Reason
		}
		metrics.StepsTotal.WithLabelValues(p.Action(), step.Kind.String(), "confirmed").Inc()
	}

	if !p.succeed() {
		return p.State().Reason
	}
	o.logger.Info("pipeline succeeded", zap.String("action", p.Action()))

	o.mu.Lock()
	hook := o.onSuccess
	o.mu.Unlock()
	if hook != nil {
		hook(ctx, from)
	}
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, p *Pipeline, i int, step Step, from common.Address) error {
	data, err := step.CallData()
	if err != nil {
		return model.NewError(model.KindInvalidInput, step.Label, err)
	}

	// Abandon or a wallet change may land between begin and here.
	if st := p.State(); st.Terminal() {
		return st.Reason
	}
	if err := o.sessionHolds(from, step.Label); err != nil {
		return err
	}

	hash, err := o.tx.Send(ctx, from, step.Target, data)
	if err != nil {
		if wallet.IsUserRejected(err) {
			return model.NewError(model.KindUserRejected, step.Label, err)
		}
		return model.NewError(model.KindTransactionReverted, step.Label, fmt.Errorf("submit: %w", err))
	}
	p.submitted(i, hash)
	o.logger.Info("step submitted", zap.String("label", step.Label), zap.String("tx_hash", hash.Hex()))

	waitCtx := ctx
	if o.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
		defer cancel()
	}

	started := time.Now()
	receipt, err := o.tx.Wait(waitCtx, hash)
	if err != nil {
		return model.NewError(model.KindTransactionReverted, step.Label, fmt.Errorf("wait for %s: %w", hash.Hex(), err))
	}
	metrics.ConfirmDuration.WithLabelValues(step.Kind.String()).Observe(time.Since(started).Seconds())

	if receipt.Status != types.ReceiptStatusSuccessful {
		return model.Errorf(model.KindTransactionReverted, step.Label, "transaction %s reverted in block %s", hash.Hex(), receipt.BlockNumber)
	}
	return nil
}

func (o *Orchestrator) approvalCovered(ctx context.Context, owner common.Address, step Step) bool {
	if len(step.Args) < 2 {
		return false
	}
	spender, ok := step.Args[0].(common.Address)
	if !ok {
		return false
	}
	amount, ok := step.Args[1].(*big.Int)
	if !ok {
		return false
	}
	allowance, err := o.market.ReadAllowance(ctx, step.Target, owner, spender)
	if err != nil {
		o.logger.Debug("allowance read failed, submitting approval", zap.Error(err))
		return false
	}
	return allowance.Cmp(amount) >= 0
}

func (o *Orchestrator) finish(p *Pipeline) {
	metrics.PipelinesTotal.WithLabelValues(p.Action(), p.State().Status.String()).Inc()
}

func (o *Orchestrator) approveStep(token common.Address, symbol string, amount *big.Int) Step {
	return Step{
		Kind:   StepApprove,
		Label:  "approve " + symbol,
		Asset:  symbol,
		Target: token,
		Method: "approve",
		Args:   []interface{}{o.cfg.Pair, amountArg(amount)},
	}
}

func (o *Orchestrator) transferStep(token common.Address, symbol string, amount *big.Int) Step {
	return Step{
		Kind:   StepTransfer,
		Label:  "transfer " + symbol,
		Asset:  symbol,
		Target: token,
		Method: "transfer",
		Args:   []interface{}{o.cfg.Pair, amountArg(amount)},
	}
}

func (o *Orchestrator) symbolOf(asset common.Address) (string, bool) {
	switch asset {
	case o.cfg.TokenA:
		return o.cfg.SymbolA, true
	case o.cfg.TokenB:
		return o.cfg.SymbolB, true
	default:
		return "", false
	}
}
