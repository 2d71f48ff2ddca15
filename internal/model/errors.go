package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures that are shown to the user.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNoWalletFound
	KindUserRejected
	KindNetworkSwitchFailed
	KindDataUnavailable
	KindTransactionReverted
	KindInvalidInput
	KindNotConnected
	KindConnectFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoWalletFound:
		return "NoWalletFound"
	case KindUserRejected:
		return "UserRejected"
	case KindNetworkSwitchFailed:
		return "NetworkSwitchFailed"
	case KindDataUnavailable:
		return "DataUnavailable"
	case KindTransactionReverted:
		return "TransactionReverted"
	case KindInvalidInput:
		return "InvalidInput"
	case KindNotConnected:
		return "NotConnected"
	case KindConnectFailed:
		return "ConnectFailed"
	default:
		return "Unknown"
	}
}

// Error is a classified failure. Step names the operation or pipeline step
// that failed, when there is one.
type Error struct {
	Kind ErrorKind
	Step string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Step != "" {
		msg += " at " + e.Step
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Step == "" && t.Err == nil
}

var (
	ErrNoWalletFound       = &Error{Kind: KindNoWalletFound}
	ErrUserRejected        = &Error{Kind: KindUserRejected}
	ErrNetworkSwitchFailed = &Error{Kind: KindNetworkSwitchFailed}
	ErrDataUnavailable     = &Error{Kind: KindDataUnavailable}
	ErrTransactionReverted = &Error{Kind: KindTransactionReverted}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
	ErrNotConnected        = &Error{Kind: KindNotConnected}
	ErrConnectFailed       = &Error{Kind: KindConnectFailed}
)

// NewError wraps err with a kind and step label.
func NewError(kind ErrorKind, step string, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, step string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Step: step, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Message renders err as status text for the user.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Error: " + err.Error()
	}

	detail := ""
	if e.Err != nil {
		detail = e.Err.Error()
	}

	switch e.Kind {
	case KindNoWalletFound:
		return "No wallet found. Configure a wallet endpoint or a private key."
	case KindUserRejected:
		if detail != "" {
			return "Request rejected in wallet: " + detail
		}
		return "No accounts selected. Please select an account in your wallet."
	case KindNetworkSwitchFailed:
		return "Failed to switch network: " + detail
	case KindDataUnavailable:
		return "Error loading data: " + detail
	case KindTransactionReverted:
		if e.Step != "" {
			return fmt.Sprintf("Transaction failed at step %q: %s", e.Step, detail)
		}
		return "Transaction failed: " + detail
	case KindInvalidInput:
		return "Invalid amount: " + detail
	case KindNotConnected:
		return "Please connect wallet first!"
	case KindConnectFailed:
		return "Failed to connect wallet: " + detail
	default:
		return "Error: " + e.Error()
	}
}
