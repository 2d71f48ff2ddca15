package quote

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"swapDesk/internal/model"
)

func TestAmountOutExactInteger(t *testing.T) {
	got, err := AmountOut(big.NewInt(1_000_000), big.NewInt(1_000_000), big.NewInt(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// floor(1000*997*1_000_000 / (1_000_000*1000 + 1000*997))
	want := new(big.Int).Mul(big.NewInt(1000*997), big.NewInt(1_000_000))
	want.Div(want, big.NewInt(1_000_000*1000+1000*997))
	if got.Cmp(want) != 0 || got.Int64() != 996 {
		t.Fatalf("amount out mismatch: got %s want %s", got, want)
	}
}

func TestAmountOutSmallPool(t *testing.T) {
	got, err := AmountOut(big.NewInt(100000), big.NewInt(100000), big.NewInt(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Int64() != 99 {
		t.Fatalf("amount out mismatch: %s", got)
	}
}

func TestAmountOutZeroCases(t *testing.T) {
	cases := [][3]int64{
		{1000, 1000, 0},
		{0, 1000, 0},
		{1000, 0, 50},
	}
	for _, c := range cases {
		got, err := AmountOut(big.NewInt(c[0]), big.NewInt(c[1]), big.NewInt(c[2]))
		if err != nil {
			t.Fatalf("unexpected error for %v: %v", c, err)
		}
		if got.Sign() != 0 {
			t.Fatalf("expected zero for %v, got %s", c, got)
		}
	}
}

func TestAmountOutEmptyReserveIn(t *testing.T) {
	// reserveIn = 0 prices the whole input against reserveOut.
	got, err := AmountOut(big.NewInt(0), big.NewInt(5000), big.NewInt(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Int64() != 5000 {
		t.Fatalf("amount out mismatch: %s", got)
	}
}

func TestAmountOutLargeReserves(t *testing.T) {
	// Products exceed 128 bits: 2^100 * 997 * 2^100.
	reserve := new(big.Int).Lsh(big.NewInt(1), 100)
	amountIn := new(big.Int).Lsh(big.NewInt(1), 100)

	got, err := AmountOut(reserve, reserve, amountIn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	withFee := new(big.Int).Mul(amountIn, big.NewInt(997))
	num := new(big.Int).Mul(withFee, reserve)
	den := new(big.Int).Add(new(big.Int).Mul(reserve, big.NewInt(1000)), withFee)
	want := new(big.Int).Div(num, den)
	if got.Cmp(want) != 0 {
		t.Fatalf("amount out mismatch: %s != %s", got, want)
	}
}

func TestAmountOutOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	if _, err := AmountOut(huge, huge, huge); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := AmountOut(big.NewInt(1), big.NewInt(1), tooBig); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := AmountOut(big.NewInt(1), big.NewInt(1), big.NewInt(-1)); err == nil {
		t.Fatalf("expected error for negative input")
	}
}

func TestAmountOutBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		reserveIn := big.NewInt(rng.Int63n(1<<40) + 1)
		reserveOut := big.NewInt(rng.Int63n(1<<40) + 1)

		for _, amount := range []int64{0, 1, 10, 1000, rng.Int63n(1 << 30), 1 << 40, 1 << 50} {
			got, err := AmountOut(reserveIn, reserveOut, big.NewInt(amount))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Sign() < 0 || got.Cmp(reserveOut) >= 0 {
				t.Fatalf("out of range: in=%d rIn=%s rOut=%s out=%s", amount, reserveIn, reserveOut, got)
			}
		}
	}
}

func TestAmountOutMonotonic(t *testing.T) {
	reserveIn := big.NewInt(123_456_789)
	reserveOut := big.NewInt(987_654_321)

	prev := big.NewInt(0)
	for amount := int64(0); amount < 200_000; amount += 997 {
		got, err := AmountOut(reserveIn, reserveOut, big.NewInt(amount))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Cmp(prev) < 0 {
			t.Fatalf("not monotonic at %d: %s < %s", amount, got, prev)
		}
		prev = got
	}
}

func TestAmountOutDeterministic(t *testing.T) {
	a, _ := AmountOut(big.NewInt(777), big.NewInt(888), big.NewInt(99))
	b, _ := AmountOut(big.NewInt(777), big.NewInt(888), big.NewInt(99))
	if a.Cmp(b) != 0 {
		t.Fatalf("non deterministic: %s != %s", a, b)
	}
}

func TestForSwapOrdering(t *testing.T) {
	tokenA := common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB := common.HexToAddress("0x2000000000000000000000000000000000000002")
	snapshot := model.ReserveSnapshot{Reserve0: big.NewInt(100000), Reserve1: big.NewInt(400000)}

	q, err := ForSwap(snapshot, tokenA, tokenB, tokenA, big.NewInt(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !q.InputIsToken0 || q.OutputAsset != tokenB {
		t.Fatalf("ordering mismatch: %+v", q)
	}
	want, _ := AmountOut(big.NewInt(100000), big.NewInt(400000), big.NewInt(100))
	if q.OutputAmount.Cmp(want) != 0 {
		t.Fatalf("output mismatch: %s != %s", q.OutputAmount, want)
	}
	out0, out1 := SwapOutputs(q)
	if out0.Sign() != 0 || out1.Cmp(want) != 0 {
		t.Fatalf("swap outputs mismatch: %s %s", out0, out1)
	}

	q, err = ForSwap(snapshot, tokenA, tokenB, tokenB, big.NewInt(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.InputIsToken0 || q.OutputAsset != tokenA {
		t.Fatalf("ordering mismatch: %+v", q)
	}
	want, _ = AmountOut(big.NewInt(400000), big.NewInt(100000), big.NewInt(100))
	out0, out1 = SwapOutputs(q)
	if out0.Cmp(want) != 0 || out1.Sign() != 0 {
		t.Fatalf("swap outputs mismatch: %s %s", out0, out1)
	}
}

func TestForSwapUnknownAsset(t *testing.T) {
	snapshot := model.ReserveSnapshot{Reserve0: big.NewInt(1), Reserve1: big.NewInt(1)}
	_, err := ForSwap(snapshot, common.Address{1}, common.Address{2}, common.Address{3}, big.NewInt(1))
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
