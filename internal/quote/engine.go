// Package quote mirrors the pair contract's constant-product output formula.
package quote

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"swapDesk/internal/model"
)

// The pair charges 0.3%: 997/1000 of the input is priced.
const (
	FeeNumerator   = 997
	FeeDenominator = 1000
)

var (
	// ErrOverflow means a value or intermediate product does not fit in 256 bits.
	// The contract would revert the same trade.
	ErrOverflow = errors.New("uint256 overflow")

	feeNumerator   = uint256.NewInt(FeeNumerator)
	feeDenominator = uint256.NewInt(FeeDenominator)
)

// AmountOut returns floor(amountIn*997*reserveOut / (reserveIn*1000 + amountIn*997)).
// Zero input or a zero denominator yields zero.
func AmountOut(reserveIn, reserveOut, amountIn *big.Int) (*big.Int, error) {
	in, err := toU256(amountIn)
	if err != nil {
		return nil, fmt.Errorf("amount in: %w", err)
	}
	rIn, err := toU256(reserveIn)
	if err != nil {
		return nil, fmt.Errorf("reserve in: %w", err)
	}
	rOut, err := toU256(reserveOut)
	if err != nil {
		return nil, fmt.Errorf("reserve out: %w", err)
	}

	out, err := amountOutU256(rIn, rOut, in)
	if err != nil {
		return nil, err
	}
	return out.ToBig(), nil
}

func amountOutU256(reserveIn, reserveOut, amountIn *uint256.Int) (*uint256.Int, error) {
	if amountIn.IsZero() {
		return new(uint256.Int), nil
	}

	withFee, overflow := new(uint256.Int).MulOverflow(amountIn, feeNumerator)
	if overflow {
		return nil, ErrOverflow
	}
	numerator, overflow := new(uint256.Int).MulOverflow(withFee, reserveOut)
	if overflow {
		return nil, ErrOverflow
	}
	scaledReserve, overflow := new(uint256.Int).MulOverflow(reserveIn, feeDenominator)
	if overflow {
		return nil, ErrOverflow
	}
	denominator, overflow := new(uint256.Int).AddOverflow(scaledReserve, withFee)
	if overflow {
		return nil, ErrOverflow
	}
	if denominator.IsZero() {
		return new(uint256.Int), nil
	}
	return new(uint256.Int).Div(numerator, denominator), nil
}

func toU256(value *big.Int) (*uint256.Int, error) {
	if value == nil {
		return new(uint256.Int), nil
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s", value)
	}
	out, overflow := uint256.FromBig(value)
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// Orient returns (reserveIn, reserveOut) for a trade whose input is token0 or not.
func Orient(snapshot model.ReserveSnapshot, inputIsToken0 bool) (*big.Int, *big.Int) {
	if inputIsToken0 {
		return snapshot.Reserve0, snapshot.Reserve1
	}
	return snapshot.Reserve1, snapshot.Reserve0
}

// ForSwap quotes amountIn of inputAsset against snapshot. token0 and token1 are
// the pair's own recorded assets; the input must be one of them.
func ForSwap(snapshot model.ReserveSnapshot, token0, token1, inputAsset common.Address, amountIn *big.Int) (model.Quote, error) {
	var inputIsToken0 bool
	var output common.Address
	switch inputAsset {
	case token0:
		inputIsToken0, output = true, token1
	case token1:
		inputIsToken0, output = false, token0
	default:
		return model.Quote{}, model.Errorf(model.KindInvalidInput, "quote", "asset %s is not in the pair", inputAsset.Hex())
	}

	reserveIn, reserveOut := Orient(snapshot, inputIsToken0)
	out, err := AmountOut(reserveIn, reserveOut, amountIn)
	if err != nil {
		return model.Quote{}, model.NewError(model.KindInvalidInput, "quote", err)
	}

	in := new(big.Int)
	if amountIn != nil {
		in.Set(amountIn)
	}
	return model.Quote{
		InputAsset:    inputAsset,
		OutputAsset:   output,
		InputAmount:   in,
		OutputAmount:  out,
		InputIsToken0: inputIsToken0,
	}, nil
}

// SwapOutputs maps a quoted output onto the pair's (amount0Out, amount1Out) arguments.
// The side that receives the input pays nothing out.
func SwapOutputs(q model.Quote) (*big.Int, *big.Int) {
	out := new(big.Int)
	if q.OutputAmount != nil {
		out.Set(q.OutputAmount)
	}
	if q.InputIsToken0 {
		return big.NewInt(0), out
	}
	return out, big.NewInt(0)
}
