// Package wallet models an EIP-1193 style wallet: a request/response channel
// plus account and network change notifications.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
)

const (
	MethodChainID         = "eth_chainId"
	MethodAccounts        = "eth_accounts"
	MethodRequestAccounts = "eth_requestAccounts"
	MethodSwitchChain     = "wallet_switchEthereumChain"
	MethodAddChain        = "wallet_addEthereumChain"
	MethodSendTransaction = "eth_sendTransaction"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected      = 4001
	CodeUnauthorized      = 4100
	CodeUnsupportedMethod = 4200
	CodeUnrecognizedChain = 4902
	CodeInvalidParams     = -32602
)

// Provider is the wallet surface the session manager and transactor consume.
type Provider interface {
	// Request performs method with params and decodes the answer into result.
	Request(ctx context.Context, method string, result interface{}, params ...interface{}) error
	// SubscribeAccounts delivers the new account list whenever it changes.
	SubscribeAccounts(ch chan<- []common.Address) event.Subscription
	// SubscribeChain delivers the new chain id whenever the wallet's network changes.
	SubscribeChain(ch chan<- uint64) event.Subscription
}

// ProviderError is an error answered by the wallet.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

// ErrorCode satisfies rpc.Error so local and remote errors are inspected alike.
func (e *ProviderError) ErrorCode() int {
	return e.Code
}

// TxArgs is the eth_sendTransaction parameter object.
type TxArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
}

// ErrorCode extracts an EIP-1193 / JSON-RPC error code from err.
func ErrorCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

// IsUserRejected reports whether the user declined the request in the wallet.
func IsUserRejected(err error) bool {
	code, ok := ErrorCode(err)
	return ok && code == CodeUserRejected
}

// IsUnrecognizedChain reports whether a switch failed because the wallet does
// not know the chain. Some wallets only say so in the message.
func IsUnrecognizedChain(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := ErrorCode(err); ok && code == CodeUnrecognizedChain {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "chain not found") || strings.Contains(msg, "unrecognized chain")
}
