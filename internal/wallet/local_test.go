package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"swapDesk/internal/model"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeBackend struct {
	mu   sync.Mutex
	sent []*types.Transaction
	gas  uint64
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return b.gas, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	b.sent = append(b.sent, tx)
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) Close() {}

func newTestLocal(t *testing.T, backend *fakeBackend) (*Local, *[]string) {
	t.Helper()
	var dialed []string
	dial := func(_ context.Context, url string) (Backend, error) {
		dialed = append(dialed, url)
		return backend, nil
	}
	w, err := NewLocal(testKey, Network{ChainID: 1, RPCURL: "http://home"}, dial, nil)
	if err != nil {
		t.Fatalf("new local: %v", err)
	}
	return w, &dialed
}

func TestLocalChainIDAndAccounts(t *testing.T) {
	w, _ := newTestLocal(t, &fakeBackend{})

	var id hexutil.Uint64
	if err := w.Request(context.Background(), MethodChainID, &id); err != nil {
		t.Fatalf("chain id: %v", err)
	}
	if uint64(id) != 1 {
		t.Fatalf("expected chain 1, got %d", id)
	}

	var accounts []common.Address
	if err := w.Request(context.Background(), MethodRequestAccounts, &accounts); err != nil {
		t.Fatalf("request accounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0] != w.Address() {
		t.Fatalf("unexpected accounts %v", accounts)
	}

	w.Lock()
	if err := w.Request(context.Background(), MethodRequestAccounts, &accounts); err != nil {
		t.Fatalf("request accounts: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("expected no accounts while locked, got %v", accounts)
	}
}

func TestLocalSwitchUnknownChain(t *testing.T) {
	w, _ := newTestLocal(t, &fakeBackend{})
	target := model.NetworkTarget{ChainID: 420420421, RPCURL: "http://target", DisplayName: "Target"}

	err := w.Request(context.Background(), MethodSwitchChain, nil, target.SwitchChainParams())
	if !IsUnrecognizedChain(err) {
		t.Fatalf("expected unrecognized chain, got %v", err)
	}
	if code, ok := ErrorCode(err); !ok || code != CodeUnrecognizedChain {
		t.Fatalf("expected code %d, got %d", CodeUnrecognizedChain, code)
	}
}

func TestLocalAddThenSwitchNotifies(t *testing.T) {
	w, _ := newTestLocal(t, &fakeBackend{})
	target := model.NetworkTarget{ChainID: 420420421, RPCURL: "http://target", DisplayName: "Target"}

	ch := make(chan uint64, 1)
	sub := w.SubscribeChain(ch)
	defer sub.Unsubscribe()

	if err := w.Request(context.Background(), MethodAddChain, nil, target.AddChainParams()); err != nil {
		t.Fatalf("add chain: %v", err)
	}
	if err := w.Request(context.Background(), MethodSwitchChain, nil, target.SwitchChainParams()); err != nil {
		t.Fatalf("switch chain: %v", err)
	}

	select {
	case id := <-ch:
		if id != target.ChainID {
			t.Fatalf("expected chain %d, got %d", target.ChainID, id)
		}
	case <-time.After(time.Second):
		t.Fatalf("no chain event")
	}
	if w.ChainID() != target.ChainID {
		t.Fatalf("wallet did not switch")
	}
}

func TestLocalLockNotifiesEmptyAccounts(t *testing.T) {
	w, _ := newTestLocal(t, &fakeBackend{})

	ch := make(chan []common.Address, 2)
	sub := w.SubscribeAccounts(ch)
	defer sub.Unsubscribe()

	w.Lock()
	w.Unlock()

	if got := <-ch; len(got) != 0 {
		t.Fatalf("expected empty list on lock, got %v", got)
	}
	if got := <-ch; len(got) != 1 || got[0] != w.Address() {
		t.Fatalf("expected account on unlock, got %v", got)
	}
}

func TestLocalSendTransactionSigns(t *testing.T) {
	backend := &fakeBackend{gas: 50_000}
	w, dialed := newTestLocal(t, backend)
	to := common.HexToAddress("0x935E7f86531335c02A458253f220F7D412172D2D")

	var hash common.Hash
	err := w.Request(context.Background(), MethodSendTransaction, &hash, TxArgs{
		From: w.Address(),
		To:   &to,
		Data: hexutil.Bytes{0x01, 0x02},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Hash() != hash {
		t.Fatalf("hash mismatch")
	}
	if tx.Gas() != 50_000 || *tx.To() != to {
		t.Fatalf("unexpected tx fields gas=%d to=%s", tx.Gas(), tx.To().Hex())
	}
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != w.Address() {
		t.Fatalf("expected sender %s, got %s", w.Address().Hex(), sender.Hex())
	}
	if len(*dialed) != 1 || (*dialed)[0] != "http://home" {
		t.Fatalf("unexpected dials %v", *dialed)
	}
}

func TestLocalSendRejectsForeignAccount(t *testing.T) {
	w, _ := newTestLocal(t, &fakeBackend{})
	to := common.HexToAddress("0x01")

	err := w.Request(context.Background(), MethodSendTransaction, nil, TxArgs{From: to, To: &to})
	code, ok := ErrorCode(err)
	if !ok || code != CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestIsUnrecognizedChainByMessage(t *testing.T) {
	if !IsUnrecognizedChain(errors.New("Chain not found for id 0x190f1b45")) {
		t.Fatalf("expected message match")
	}
	if IsUnrecognizedChain(errors.New("boom")) {
		t.Fatalf("unexpected match")
	}
	if !IsUserRejected(&ProviderError{Code: CodeUserRejected}) {
		t.Fatalf("expected user rejection")
	}
}
