package model

import "github.com/ethereum/go-ethereum/common"

// Session is the connection to one wallet account on the target network.
// Account is non-nil exactly when Connected is true.
type Session struct {
	Connected bool
	Account   *common.Address
	NetworkID uint64
}

// Disconnected returns the zero session.
func Disconnected() Session {
	return Session{}
}

// NewSession builds a connected session for account on chainID.
func NewSession(account common.Address, chainID uint64) Session {
	acc := account
	return Session{Connected: true, Account: &acc, NetworkID: chainID}
}

// WithAccount returns a copy of s bound to account.
func (s Session) WithAccount(account common.Address) Session {
	acc := account
	s.Account = &acc
	return s
}

func (s Session) AccountHex() string {
	if s.Account == nil {
		return ""
	}
	return s.Account.Hex()
}
