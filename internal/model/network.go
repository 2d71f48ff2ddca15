package model

import "github.com/ethereum/go-ethereum/common/hexutil"

// NativeCurrency describes the gas token of a network.
type NativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// NetworkTarget is the single network the client is allowed to operate on.
type NetworkTarget struct {
	ChainID        uint64
	RPCURL         string
	DisplayName    string
	NativeCurrency NativeCurrency
	ExplorerURL    string
}

// AddChainParams is the wallet_addEthereumChain parameter object.
type AddChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	RPCURLs           []string       `json:"rpcUrls"`
	NativeCurrency    NativeCurrency `json:"nativeCurrency"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
}

// SwitchChainParams is the wallet_switchEthereumChain parameter object.
type SwitchChainParams struct {
	ChainID string `json:"chainId"`
}

// ChainIDHex returns the chain id in the 0x-prefixed form wallets use.
func (n NetworkTarget) ChainIDHex() string {
	return hexutil.EncodeUint64(n.ChainID)
}

func (n NetworkTarget) AddChainParams() AddChainParams {
	params := AddChainParams{
		ChainID:        n.ChainIDHex(),
		ChainName:      n.DisplayName,
		RPCURLs:        []string{n.RPCURL},
		NativeCurrency: n.NativeCurrency,
	}
	if n.ExplorerURL != "" {
		params.BlockExplorerURLs = []string{n.ExplorerURL}
	}
	return params
}

func (n NetworkTarget) SwitchChainParams() SwitchChainParams {
	return SwitchChainParams{ChainID: n.ChainIDHex()}
}
