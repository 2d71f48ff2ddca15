package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"swapDesk/internal/chain"
	"swapDesk/internal/dex"
)

// GuardConfig bounds how hard the reader leans on the RPC endpoint.
type GuardConfig struct {
	Rate            float64
	Burst           int
	Retries         int
	Backoff         time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultGuardConfig returns the limits used when nothing is configured.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Rate:            10,
		Burst:           20,
		Retries:         2,
		Backoff:         200 * time.Millisecond,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// Guard is a dex.Caller that rate limits, retries and circuit-breaks reads.
type Guard struct {
	inner   dex.Caller
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retries int
	backoff time.Duration
	logger  *zap.Logger
}

// NewGuard wraps inner with the limits in cfg.
func NewGuard(inner dex.Caller, cfg GuardConfig, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultGuardConfig()
	if cfg.Rate <= 0 {
		cfg.Rate = defaults.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaults.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = defaults.BreakerTimeout
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pair-reads",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("read breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Guard{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		breaker: breaker,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		logger:  logger,
	}
}

func (g *Guard) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if g.inner == nil {
		return nil, fmt.Errorf("chain caller is nil")
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		var resp []byte
		err := chain.WithRetry(ctx, g.retries, g.backoff, func(ctx context.Context) error {
			var err error
			resp, err = g.inner.CallContract(ctx, msg, blockNumber)
			return err
		})
		return resp, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			g.logger.Debug("read rejected by breaker", zap.Error(err))
		}
		return nil, err
	}
	return out.([]byte), nil
}

// State reports the breaker state for display.
func (g *Guard) State() string {
	return g.breaker.State().String()
}
