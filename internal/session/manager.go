// Package session owns the connection between the client and one wallet
// account on the target network.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"swapDesk/internal/metrics"
	"swapDesk/internal/model"
	"swapDesk/internal/wallet"
)

const (
	StatusConnected      = "Wallet connected!"
	StatusAccountChanged = "Wallet account changed."
	StatusDisconnected   = "Wallet disconnected."
	StatusNetworkChanged = "Wallet network changed."
)

const eventBuffer = 16

// Options tune the manager's reaction to wallet events.
type Options struct {
	// ReconnectOnNetworkChange runs a full Connect after a network change
	// tore the session down.
	ReconnectOnNetworkChange bool
}

// Manager runs the connect flow and keeps the session in step with wallet
// account and network changes.
type Manager struct {
	provider wallet.Provider
	target   model.NetworkTarget
	logger   *zap.Logger
	opts     Options

	connectMu sync.Mutex

	mu       sync.RWMutex
	session  model.Session
	status   string
	onChange func(model.Session)
	// accountGen counts account events, including those seen while
	// disconnected; lastAccounts is the most recent list.
	accountGen   uint64
	lastAccounts []common.Address

	accountsCh chan []common.Address
	chainCh    chan uint64
	subs       []event.Subscription
	quit       chan struct{}
	wg         sync.WaitGroup
	startOnce  sync.Once
	closeOnce  sync.Once
}

// NewManager builds a manager for target. provider may be nil, in which case
// every Connect fails with NoWalletFound.
func NewManager(provider wallet.Provider, target model.NetworkTarget, logger *zap.Logger, opts Options) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		provider:   provider,
		target:     target,
		logger:     logger,
		opts:       opts,
		session:    model.Disconnected(),
		accountsCh: make(chan []common.Address, eventBuffer),
		chainCh:    make(chan uint64, eventBuffer),
		quit:       make(chan struct{}),
	}
}

// OnChange registers fn to be called after every session transition.
func (m *Manager) OnChange(fn func(model.Session)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Session returns a copy of the current session.
func (m *Manager) Session() model.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Status returns the latest user-facing status line.
func (m *Manager) Status() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Target returns the network the manager connects to.
func (m *Manager) Target() model.NetworkTarget {
	return m.target
}

// Start registers the account and network listeners. They stay registered
// until Close.
func (m *Manager) Start() {
	if m.provider == nil {
		return
	}
	m.startOnce.Do(func() {
		m.subs = []event.Subscription{
			m.provider.SubscribeAccounts(m.accountsCh),
			m.provider.SubscribeChain(m.chainCh),
		}
		m.wg.Add(1)
		go m.loop()
	})
}

// Close unregisters the listeners and waits for the event goroutine.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.quit)
		for _, sub := range m.subs {
			sub.Unsubscribe()
		}
		m.wg.Wait()
	})
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.quit:
			return
		case accounts := <-m.accountsCh:
			m.handleAccounts(accounts)
		case chainID := <-m.chainCh:
			m.handleChain(chainID)
		}
	}
}

// Connect ensures the wallet is on the target network and the user granted
// an account.
func (m *Manager) Connect(ctx context.Context) (model.Session, error) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	sess, gen, err := m.connect(ctx)
	if err == nil {
		sess, err = m.commit(sess, gen)
	}
	if err != nil {
		metrics.SessionEvents.WithLabelValues("connect_failed").Inc()
		m.logger.Warn("connect failed", zap.String("kind", model.KindOf(err).String()), zap.Error(err))
		m.setStatus(model.Message(err))
		return model.Disconnected(), err
	}

	metrics.SessionEvents.WithLabelValues("connected").Inc()
	m.logger.Info("wallet connected",
		zap.String("account", sess.AccountHex()),
		zap.Uint64("chain_id", sess.NetworkID),
	)
	return sess, nil
}

// connect runs the wallet requests. It also returns the account event
// generation observed before accounts were requested.
func (m *Manager) connect(ctx context.Context) (model.Session, uint64, error) {
	if m.provider == nil {
		return model.Session{}, 0, model.ErrNoWalletFound
	}

	var current hexutil.Uint64
	if err := m.provider.Request(ctx, wallet.MethodChainID, &current); err != nil {
		return model.Session{}, 0, classify(err, model.KindConnectFailed, wallet.MethodChainID)
	}

	if uint64(current) != m.target.ChainID {
		if err := m.switchNetwork(ctx); err != nil {
			return model.Session{}, 0, err
		}
	}

	m.mu.RLock()
	gen := m.accountGen
	m.mu.RUnlock()

	var accounts []common.Address
	if err := m.provider.Request(ctx, wallet.MethodRequestAccounts, &accounts); err != nil {
		return model.Session{}, 0, classify(err, model.KindConnectFailed, wallet.MethodRequestAccounts)
	}
	if len(accounts) == 0 {
		return model.Session{}, 0, model.ErrUserRejected
	}

	return model.NewSession(accounts[0], m.target.ChainID), gen, nil
}

// commit publishes sess. An account event that arrived after accounts were
// requested wins over the requested list: an empty list fails the connect,
// otherwise its first account is used.
func (m *Manager) commit(sess model.Session, gen uint64) (model.Session, error) {
	m.mu.Lock()
	if m.accountGen != gen {
		if len(m.lastAccounts) == 0 {
			m.mu.Unlock()
			return model.Session{}, model.Errorf(model.KindUserRejected, wallet.MethodRequestAccounts, "wallet withdrew all accounts")
		}
		sess = sess.WithAccount(m.lastAccounts[0])
	}
	m.session = sess
	m.status = StatusConnected
	metrics.Connected.Set(1)
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(sess)
	}
	return sess, nil
}

// switchNetwork asks the wallet to move to the target. An unknown chain is
// added once and the switch retried exactly once. Every failure here,
// including a declined prompt, is NetworkSwitchFailed.
func (m *Manager) switchNetwork(ctx context.Context) error {
	err := m.provider.Request(ctx, wallet.MethodSwitchChain, nil, m.target.SwitchChainParams())
	if err == nil {
		return nil
	}
	if !wallet.IsUnrecognizedChain(err) {
		return model.NewError(model.KindNetworkSwitchFailed, wallet.MethodSwitchChain, err)
	}

	m.logger.Info("target network unknown to wallet, adding", zap.Uint64("chain_id", m.target.ChainID))
	if err := m.provider.Request(ctx, wallet.MethodAddChain, nil, m.target.AddChainParams()); err != nil {
		return model.NewError(model.KindNetworkSwitchFailed, wallet.MethodAddChain, err)
	}
	if err := m.provider.Request(ctx, wallet.MethodSwitchChain, nil, m.target.SwitchChainParams()); err != nil {
		return model.NewError(model.KindNetworkSwitchFailed, wallet.MethodSwitchChain, err)
	}
	return nil
}

// Disconnect tears the session down.
func (m *Manager) Disconnect() {
	if m.teardown(StatusDisconnected) {
		metrics.SessionEvents.WithLabelValues("disconnected").Inc()
	}
}

func (m *Manager) handleAccounts(accounts []common.Address) {
	metrics.SessionEvents.WithLabelValues("accounts_changed").Inc()

	m.mu.Lock()
	m.accountGen++
	m.lastAccounts = append([]common.Address(nil), accounts...)
	m.mu.Unlock()

	if len(accounts) == 0 {
		if m.teardown(StatusDisconnected) {
			m.logger.Info("wallet disconnected")
		}
		return
	}

	m.mu.Lock()
	if !m.session.Connected {
		m.mu.Unlock()
		m.logger.Debug("account change ignored while disconnected")
		return
	}
	if *m.session.Account == accounts[0] {
		m.mu.Unlock()
		return
	}
	m.session = m.session.WithAccount(accounts[0])
	m.status = StatusAccountChanged
	sess, fn := m.session, m.onChange
	m.mu.Unlock()

	m.logger.Info("wallet account changed", zap.String("account", sess.AccountHex()))
	if fn != nil {
		fn(sess)
	}
}

func (m *Manager) handleChain(chainID uint64) {
	metrics.SessionEvents.WithLabelValues("chain_changed").Inc()

	m.mu.RLock()
	sess := m.session
	m.mu.RUnlock()
	if !sess.Connected || sess.NetworkID == chainID {
		return
	}

	m.logger.Info("wallet network changed", zap.Uint64("from", sess.NetworkID), zap.Uint64("to", chainID))
	if !m.teardown(StatusNetworkChanged) {
		return
	}
	if !m.opts.ReconnectOnNetworkChange {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-m.quit:
			cancel()
		case <-ctx.Done():
		}
	}()
	if _, err := m.Connect(ctx); err != nil {
		m.logger.Warn("reconnect after network change failed", zap.Error(err))
	}
}

// teardown clears account and connection together. It reports whether a
// connected session was actually torn down.
func (m *Manager) teardown(status string) bool {
	m.mu.Lock()
	if !m.session.Connected {
		m.mu.Unlock()
		return false
	}
	m.session = model.Disconnected()
	m.status = status
	metrics.Connected.Set(0)
	sess, fn := m.session, m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(sess)
	}
	return true
}

func (m *Manager) setStatus(status string) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

// classify maps a wallet error onto the user-facing taxonomy. A user
// rejection keeps its own kind whatever step it came from.
func classify(err error, fallback model.ErrorKind, step string) error {
	if wallet.IsUserRejected(err) {
		return model.NewError(model.KindUserRejected, step, err)
	}
	var classified *model.Error
	if errors.As(err, &classified) {
		return err
	}
	return model.NewError(fallback, step, err)
}
