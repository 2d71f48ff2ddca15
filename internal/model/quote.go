package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Quote is a locally computed swap estimate. It is derived from one
// ReserveSnapshot and is not a chain-enforced guarantee.
type Quote struct {
	InputAsset   common.Address `json:"input_asset"`
	OutputAsset  common.Address `json:"output_asset"`
	InputAmount  *big.Int       `json:"input_amount"`
	OutputAmount *big.Int       `json:"output_amount"`
	// InputIsToken0 records the resolved pair ordering for the input asset.
	InputIsToken0 bool `json:"input_is_token0"`
}
