package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"swapDesk/internal/chain"
	"swapDesk/internal/model"
)

// Backend is the node access a Local wallet needs to sign and broadcast.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// Dialer opens a Backend for an RPC endpoint.
type Dialer func(ctx context.Context, rpcURL string) (Backend, error)

// Network is a chain the Local wallet knows how to reach.
type Network struct {
	ChainID uint64
	RPCURL  string
	Name    string
}

// DialChain is the default Dialer, backed by chain.Client.
func DialChain(ctx context.Context, rpcURL string) (Backend, error) {
	client, err := chain.NewClient(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Local is an in-process wallet holding one private key. It answers the same
// methods a browser wallet does, against whichever known network is current.
type Local struct {
	key     *ecdsa.PrivateKey
	address common.Address
	dial    Dialer
	logger  *zap.Logger

	mu       sync.Mutex
	networks map[uint64]Network
	backends map[uint64]Backend
	current  uint64
	locked   bool

	accountsFeed event.Feed
	chainFeed    event.Feed
}

// NewLocal builds a wallet for keyHex whose current network is home.
func NewLocal(keyHex string, home Network, dial Dialer, logger *zap.Logger) (*Local, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if home.ChainID == 0 {
		return nil, fmt.Errorf("home network chain id is required")
	}
	if dial == nil {
		dial = DialChain
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Local{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		dial:     dial,
		logger:   logger,
		networks: map[uint64]Network{home.ChainID: home},
		backends: make(map[uint64]Backend),
		current:  home.ChainID,
	}, nil
}

// Address returns the account controlled by the wallet.
func (w *Local) Address() common.Address {
	return w.address
}

// ChainID returns the wallet's current network.
func (w *Local) ChainID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Lock hides the account and notifies listeners with an empty account list.
func (w *Local) Lock() {
	w.mu.Lock()
	changed := !w.locked
	w.locked = true
	w.mu.Unlock()

	if changed {
		w.accountsFeed.Send([]common.Address{})
	}
}

// Unlock exposes the account again and notifies listeners.
func (w *Local) Unlock() {
	w.mu.Lock()
	changed := w.locked
	w.locked = false
	w.mu.Unlock()

	if changed {
		w.accountsFeed.Send([]common.Address{w.address})
	}
}

// Close releases every dialed backend.
func (w *Local) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, backend := range w.backends {
		backend.Close()
		delete(w.backends, id)
	}
}

func (w *Local) SubscribeAccounts(ch chan<- []common.Address) event.Subscription {
	return w.accountsFeed.Subscribe(ch)
}

func (w *Local) SubscribeChain(ch chan<- uint64) event.Subscription {
	return w.chainFeed.Subscribe(ch)
}

// Request dispatches an EIP-1193 method. Params and results go through JSON so
// callers see the same encoding a remote wallet would produce.
func (w *Local) Request(ctx context.Context, method string, result interface{}, params ...interface{}) error {
	var (
		answer interface{}
		err    error
	)

	switch method {
	case MethodChainID:
		answer = hexutil.Uint64(w.ChainID())
	case MethodAccounts, MethodRequestAccounts:
		answer = w.accounts()
	case MethodSwitchChain:
		answer, err = w.switchChain(params)
	case MethodAddChain:
		answer, err = w.addChain(params)
	case MethodSendTransaction:
		answer, err = w.sendTransaction(ctx, params)
	default:
		err = &ProviderError{Code: CodeUnsupportedMethod, Message: "unsupported method " + method}
	}
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}

	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode %s result: %w", method, err)
	}
	return json.Unmarshal(raw, result)
}

func (w *Local) accounts() []common.Address {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.locked {
		return []common.Address{}
	}
	return []common.Address{w.address}
}

func (w *Local) switchChain(params []interface{}) (interface{}, error) {
	var req model.SwitchChainParams
	if err := decodeParam(params, &req); err != nil {
		return nil, err
	}
	id, err := hexutil.DecodeUint64(req.ChainID)
	if err != nil {
		return nil, &ProviderError{Code: CodeInvalidParams, Message: "invalid chainId " + req.ChainID}
	}

	w.mu.Lock()
	if _, ok := w.networks[id]; !ok {
		w.mu.Unlock()
		return nil, &ProviderError{Code: CodeUnrecognizedChain, Message: "Unrecognized chain ID " + req.ChainID}
	}
	changed := w.current != id
	w.current = id
	w.mu.Unlock()

	if changed {
		w.logger.Info("wallet switched network", zap.Uint64("chain_id", id))
		w.chainFeed.Send(id)
	}
	return nil, nil
}

func (w *Local) addChain(params []interface{}) (interface{}, error) {
	var req model.AddChainParams
	if err := decodeParam(params, &req); err != nil {
		return nil, err
	}
	id, err := hexutil.DecodeUint64(req.ChainID)
	if err != nil {
		return nil, &ProviderError{Code: CodeInvalidParams, Message: "invalid chainId " + req.ChainID}
	}
	if len(req.RPCURLs) == 0 || req.RPCURLs[0] == "" {
		return nil, &ProviderError{Code: CodeInvalidParams, Message: "rpcUrls is required"}
	}

	w.mu.Lock()
	w.networks[id] = Network{ChainID: id, RPCURL: req.RPCURLs[0], Name: req.ChainName}
	w.mu.Unlock()

	w.logger.Info("wallet added network", zap.Uint64("chain_id", id), zap.String("name", req.ChainName))
	return nil, nil
}

func (w *Local) sendTransaction(ctx context.Context, params []interface{}) (interface{}, error) {
	var args TxArgs
	if err := decodeParam(params, &args); err != nil {
		return nil, err
	}

	w.mu.Lock()
	locked := w.locked
	chainID := w.current
	w.mu.Unlock()

	if locked || args.From != w.address {
		return nil, &ProviderError{Code: CodeUnauthorized, Message: "account not authorized " + args.From.Hex()}
	}

	backend, err := w.backend(ctx, chainID)
	if err != nil {
		return nil, err
	}

	nonce, err := backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}

	value := new(big.Int)
	if args.Value != nil {
		value = args.Value.ToInt()
	}

	var gas uint64
	if args.Gas != nil {
		gas = uint64(*args.Gas)
	} else {
		gas, err = backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  w.address,
			To:    args.To,
			Value: value,
			Data:  args.Data,
		})
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       args.To,
		Value:    value,
		Data:     args.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)), w.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}

	w.logger.Debug("transaction sent",
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gas),
	)
	return signed.Hash(), nil
}

func (w *Local) backend(ctx context.Context, chainID uint64) (Backend, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if backend, ok := w.backends[chainID]; ok {
		return backend, nil
	}
	network, ok := w.networks[chainID]
	if !ok {
		return nil, &ProviderError{Code: CodeUnrecognizedChain, Message: fmt.Sprintf("no rpc for chain %d", chainID)}
	}
	backend, err := w.dial(ctx, network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", network.RPCURL, err)
	}
	w.backends[chainID] = backend
	return backend, nil
}

func decodeParam(params []interface{}, out interface{}) error {
	if len(params) == 0 {
		return &ProviderError{Code: CodeInvalidParams, Message: "missing params"}
	}
	raw, err := json.Marshal(params[0])
	if err != nil {
		return &ProviderError{Code: CodeInvalidParams, Message: err.Error()}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Code: CodeInvalidParams, Message: err.Error()}
	}
	return nil
}
