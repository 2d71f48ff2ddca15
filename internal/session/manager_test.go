package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"

	"swapDesk/internal/model"
	"swapDesk/internal/wallet"
)

var (
	target = model.NetworkTarget{
		ChainID:        420420421,
		RPCURL:         "https://target.example",
		DisplayName:    "Westend Asset Hub",
		NativeCurrency: model.NativeCurrency{Name: "Westend", Symbol: "WND", Decimals: 18},
	}
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type fakeProvider struct {
	mu       sync.Mutex
	chainID  uint64
	known    map[uint64]bool
	accounts []common.Address
	errs     map[string][]error
	calls    []string
	// afterAccounts runs once eth_requestAccounts has been answered.
	afterAccounts func()

	accountsFeed event.Feed
	chainFeed    event.Feed
}

func newFakeProvider(chainID uint64) *fakeProvider {
	return &fakeProvider{
		chainID:  chainID,
		known:    map[uint64]bool{chainID: true},
		accounts: []common.Address{alice},
		errs:     make(map[string][]error),
	}
}

func (p *fakeProvider) fail(method string, errs ...error) {
	p.errs[method] = append(p.errs[method], errs...)
}

func (p *fakeProvider) count(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (p *fakeProvider) Request(_ context.Context, method string, result interface{}, params ...interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, method)
	if queued := p.errs[method]; len(queued) > 0 {
		p.errs[method] = queued[1:]
		return queued[0]
	}

	switch method {
	case wallet.MethodChainID:
		*result.(*hexutil.Uint64) = hexutil.Uint64(p.chainID)
	case wallet.MethodSwitchChain:
		id := hexutil.MustDecodeUint64(params[0].(model.SwitchChainParams).ChainID)
		if !p.known[id] {
			return &wallet.ProviderError{Code: wallet.CodeUnrecognizedChain, Message: "Unrecognized chain ID"}
		}
		p.chainID = id
	case wallet.MethodAddChain:
		id := hexutil.MustDecodeUint64(params[0].(model.AddChainParams).ChainID)
		p.known[id] = true
	case wallet.MethodRequestAccounts:
		*result.(*[]common.Address) = append([]common.Address(nil), p.accounts...)
		if p.afterAccounts != nil {
			p.afterAccounts()
		}
	}
	return nil
}

func (p *fakeProvider) SubscribeAccounts(ch chan<- []common.Address) event.Subscription {
	return p.accountsFeed.Subscribe(ch)
}

func (p *fakeProvider) SubscribeChain(ch chan<- uint64) event.Subscription {
	return p.chainFeed.Subscribe(ch)
}

func assertDisconnected(t *testing.T, m *Manager) {
	t.Helper()
	sess := m.Session()
	if sess.Connected || sess.Account != nil {
		t.Fatalf("expected disconnected session, got %+v", sess)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectOnTargetNetwork(t *testing.T) {
	p := newFakeProvider(target.ChainID)
	m := NewManager(p, target, nil, Options{})

	sess, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !sess.Connected || sess.Account == nil || *sess.Account != alice || sess.NetworkID != target.ChainID {
		t.Fatalf("unexpected session %+v", sess)
	}
	if p.count(wallet.MethodSwitchChain) != 0 {
		t.Fatalf("switch should not be requested on the target network")
	}
	if m.Status() != StatusConnected {
		t.Fatalf("unexpected status %q", m.Status())
	}
}

func TestConnectSwitchesKnownNetwork(t *testing.T) {
	p := newFakeProvider(1)
	p.known[target.ChainID] = true
	m := NewManager(p, target, nil, Options{})

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if p.count(wallet.MethodSwitchChain) != 1 || p.count(wallet.MethodAddChain) != 0 {
		t.Fatalf("unexpected calls %v", p.calls)
	}
}

func TestConnectAddsUnknownNetwork(t *testing.T) {
	p := newFakeProvider(1)
	m := NewManager(p, target, nil, Options{})

	sess, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	want := []string{
		wallet.MethodChainID,
		wallet.MethodSwitchChain,
		wallet.MethodAddChain,
		wallet.MethodSwitchChain,
		wallet.MethodRequestAccounts,
	}
	if len(p.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, p.calls)
	}
	for i := range want {
		if p.calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, p.calls)
		}
	}
	if sess.NetworkID != target.ChainID {
		t.Fatalf("unexpected network %d", sess.NetworkID)
	}
}

func TestConnectUnknownChainByMessage(t *testing.T) {
	p := newFakeProvider(1)
	p.fail(wallet.MethodSwitchChain, errors.New("chain not found"))
	m := NewManager(p, target, nil, Options{})

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if p.count(wallet.MethodAddChain) != 1 {
		t.Fatalf("expected add after message-only unknown chain error")
	}
}

func TestConnectSecondSwitchFailureIsFatal(t *testing.T) {
	p := newFakeProvider(1)
	unknown := &wallet.ProviderError{Code: wallet.CodeUnrecognizedChain, Message: "Unrecognized chain ID"}
	p.fail(wallet.MethodSwitchChain, unknown, unknown)
	m := NewManager(p, target, nil, Options{})

	_, err := m.Connect(context.Background())
	if !errors.Is(err, model.ErrNetworkSwitchFailed) {
		t.Fatalf("expected NetworkSwitchFailed, got %v", err)
	}
	if p.count(wallet.MethodSwitchChain) != 2 {
		t.Fatalf("switch must be retried exactly once, got %d", p.count(wallet.MethodSwitchChain))
	}
	if p.count(wallet.MethodRequestAccounts) != 0 {
		t.Fatalf("accounts must not be requested after a failed switch")
	}
	assertDisconnected(t, m)
}

func TestConnectAddFailureIsFatal(t *testing.T) {
	p := newFakeProvider(1)
	p.fail(wallet.MethodAddChain, &wallet.ProviderError{Code: wallet.CodeUserRejected, Message: "User rejected"})
	m := NewManager(p, target, nil, Options{})

	_, err := m.Connect(context.Background())
	if !errors.Is(err, model.ErrNetworkSwitchFailed) {
		t.Fatalf("expected NetworkSwitchFailed, got %v", err)
	}
	if p.count(wallet.MethodSwitchChain) != 1 {
		t.Fatalf("switch must not be retried after a failed add")
	}
	assertDisconnected(t, m)
}

func TestConnectOtherSwitchErrorSkipsAdd(t *testing.T) {
	p := newFakeProvider(1)
	p.fail(wallet.MethodSwitchChain, errors.New("internal wallet error"))
	m := NewManager(p, target, nil, Options{})

	_, err := m.Connect(context.Background())
	if !errors.Is(err, model.ErrNetworkSwitchFailed) {
		t.Fatalf("expected NetworkSwitchFailed, got %v", err)
	}
	if p.count(wallet.MethodAddChain) != 0 {
		t.Fatalf("add must only follow an unknown chain error")
	}
}

func TestConnectUserRejectsAccounts(t *testing.T) {
	p := newFakeProvider(target.ChainID)
	p.fail(wallet.MethodRequestAccounts, &wallet.ProviderError{Code: wallet.CodeUserRejected, Message: "User rejected the request."})
	m := NewManager(p, target, nil, Options{})

	_, err := m.Connect(context.Background())
	if !errors.Is(err, model.ErrUserRejected) {
		t.Fatalf("expected UserRejected, got %v", err)
	}
	if p.count(wallet.MethodRequestAccounts) != 1 {
		t.Fatalf("user rejection must not be retried")
	}
	assertDisconnected(t, m)
}

func TestConnectEmptyAccounts(t *testing.T) {
	p := newFakeProvider(target.ChainID)
	p.accounts = nil
	m := NewManager(p, target, nil, Options{})

	_, err := m.Connect(context.Background())
	if !errors.Is(err, model.ErrUserRejected) {
		t.Fatalf("expected UserRejected, got %v", err)
	}
	assertDisconnected(t, m)
}

func TestConnectWithoutWallet(t *testing.T) {
	m := NewManager(nil, target, nil, Options{})
	m.Start()
	defer m.Close()

	_, err := m.Connect(context.Background())
	if !errors.Is(err, model.ErrNoWalletFound) {
		t.Fatalf("expected NoWalletFound, got %v", err)
	}
	if m.Status() != model.Message(err) {
		t.Fatalf("unexpected status %q", m.Status())
	}
}

func TestAccountChangeUpdatesSession(t *testing.T) {
	p := newFakeProvider(target.ChainID)
	m := NewManager(p, target, nil, Options{})
	m.Start()
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	p.accountsFeed.Send([]common.Address{bob})
	waitFor(t, func() bool {
		sess := m.Session()
		return sess.Account != nil && *sess.Account == bob
	})
	if !m.Session().Connected || m.Status() != StatusAccountChanged {
		t.Fatalf("unexpected state %+v %q", m.Session(), m.Status())
	}

	p.accountsFeed.Send([]common.Address{})
	waitFor(t, func() bool { return !m.Session().Connected })
	assertDisconnected(t, m)
	if m.Status() != StatusDisconnected {
		t.Fatalf("unexpected status %q", m.Status())
	}
}

func (m *Manager) accountEvents() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accountGen
}

func TestAccountsWithdrawnDuringConnect(t *testing.T) {
	p := newFakeProvider(target.ChainID)
	m := NewManager(p, target, nil, Options{})
	m.Start()
	defer m.Close()

	p.afterAccounts = func() {
		p.accountsFeed.Send([]common.Address{})
		waitFor(t, func() bool { return m.accountEvents() == 1 })
	}

	_, err := m.Connect(context.Background())
	if !errors.Is(err, model.ErrUserRejected) {
		t.Fatalf("expected UserRejected, got %v", err)
	}
	assertDisconnected(t, m)
	if m.Status() == StatusConnected {
		t.Fatalf("connected status must not be published")
	}
}

func TestAccountSwitchedDuringConnect(t *testing.T) {
	p := newFakeProvider(target.ChainID)
	m := NewManager(p, target, nil, Options{})
	m.Start()
	defer m.Close()

	p.afterAccounts = func() {
		p.accountsFeed.Send([]common.Address{bob})
		waitFor(t, func() bool { return m.accountEvents() == 1 })
	}

	sess, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if *sess.Account != bob || *m.Session().Account != bob {
		t.Fatalf("expected the latest account, got %+v", sess)
	}
}

func TestDisconnectNotifiesOnce(t *testing.T) {
	p := newFakeProvider(target.ChainID)
	m := NewManager(p, target, nil, Options{})
	var seen []bool
	m.OnChange(func(sess model.Session) { seen = append(seen, sess.Connected) })

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	m.Disconnect()
	m.Disconnect()

	assertDisconnected(t, m)
	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Fatalf("unexpected transitions %v", seen)
	}
	if m.Status() != StatusDisconnected {
		t.Fatalf("unexpected status %q", m.Status())
	}
}

func TestAccountChangeIgnoredWhileDisconnected(t *testing.T) {
	p := newFakeProvider(target.ChainID)
	m := NewManager(p, target, nil, Options{})

	changes := make(chan model.Session, 4)
	m.OnChange(func(s model.Session) { changes <- s })
	m.Start()
	defer m.Close()

	p.accountsFeed.Send([]common.Address{bob})
	p.accountsFeed.Send([]common.Address{})
	// The chain event is handled after both account events.
	p.chainFeed.Send(uint64(7))

	time.Sleep(50 * time.Millisecond)
	assertDisconnected(t, m)
	if len(changes) != 0 {
		t.Fatalf("expected no transitions, got %d", len(changes))
	}
}

func TestCloseRemovesListeners(t *testing.T) {
	p := newFakeProvider(target.ChainID)
	m := NewManager(p, target, nil, Options{})
	m.Start()
	m.Close()

	if n := p.accountsFeed.Send([]common.Address{bob}); n != 0 {
		t.Fatalf("expected no account listeners after close, got %d", n)
	}
	if n := p.chainFeed.Send(uint64(1)); n != 0 {
		t.Fatalf("expected no network listeners after close, got %d", n)
	}
}

const localKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newLocalWallet(t *testing.T) *wallet.Local {
	t.Helper()
	dial := func(context.Context, string) (wallet.Backend, error) {
		return nil, errors.New("no backend in tests")
	}
	w, err := wallet.NewLocal(localKey, wallet.Network{ChainID: 1, RPCURL: "http://home"}, dial, nil)
	if err != nil {
		t.Fatalf("new local wallet: %v", err)
	}
	return w
}

func TestLocalWalletLockTearsDown(t *testing.T) {
	w := newLocalWallet(t)
	m := NewManager(w, target, nil, Options{})
	m.Start()
	defer m.Close()

	sess, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if *sess.Account != w.Address() || w.ChainID() != target.ChainID {
		t.Fatalf("unexpected session %+v on chain %d", sess, w.ChainID())
	}

	w.Lock()
	waitFor(t, func() bool { return !m.Session().Connected })
	assertDisconnected(t, m)

	w.Unlock()
	time.Sleep(20 * time.Millisecond)
	assertDisconnected(t, m)
}

func TestNetworkChangeTearsDown(t *testing.T) {
	w := newLocalWallet(t)
	m := NewManager(w, target, nil, Options{})
	m.Start()
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	home := model.NetworkTarget{ChainID: 1}
	if err := w.Request(context.Background(), wallet.MethodSwitchChain, nil, home.SwitchChainParams()); err != nil {
		t.Fatalf("switch home: %v", err)
	}
	waitFor(t, func() bool { return !m.Session().Connected })
	assertDisconnected(t, m)
	if m.Status() != StatusNetworkChanged {
		t.Fatalf("unexpected status %q", m.Status())
	}
}

func TestNetworkChangeReconnects(t *testing.T) {
	w := newLocalWallet(t)
	m := NewManager(w, target, nil, Options{ReconnectOnNetworkChange: true})

	var (
		mu          sync.Mutex
		transitions []bool
	)
	m.OnChange(func(s model.Session) {
		mu.Lock()
		transitions = append(transitions, s.Connected)
		mu.Unlock()
	})
	m.Start()
	defer m.Close()

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	home := model.NetworkTarget{ChainID: 1}
	if err := w.Request(context.Background(), wallet.MethodSwitchChain, nil, home.SwitchChainParams()); err != nil {
		t.Fatalf("switch home: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) >= 3
	})
	mu.Lock()
	got := append([]bool(nil), transitions[:3]...)
	mu.Unlock()
	if !got[0] || got[1] || !got[2] {
		t.Fatalf("expected connect, teardown, reconnect; got %v", got)
	}
	sess := m.Session()
	if !sess.Connected || sess.NetworkID != target.ChainID || w.ChainID() != target.ChainID {
		t.Fatalf("unexpected session %+v on chain %d", sess, w.ChainID())
	}
}
