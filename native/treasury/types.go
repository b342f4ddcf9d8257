package treasury

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Failure reasons reported by ExecuteBuybackAndBurn.
const (
	ReasonUnsupportedToken      = "unsupported_token"
	ReasonZeroBalance           = "zero_balance"
	ReasonSlippage              = "slippage"
	ReasonInsufficientLiquidity = "insufficient_liquidity"
	ReasonPriceUnavailable      = "price_unavailable"
	ReasonSwapFailed            = "swap_failed"
	ReasonBurnFailed            = "burn_failed"
)

// Config is the buyback configuration held in state.
type Config struct {
	Enabled   bool
	Threshold *big.Int
	Reference common.Address
	Bridge    common.Address
}

// BuybackResult is the per-asset outcome of ExecuteBuybackAndBurn.
type BuybackResult struct {
	Token     common.Address
	Native    bool
	AmountIn  *big.Int
	AmountOut *big.Int
	Path      []common.Address
	Success   bool
	Reason    string
}

// Upside summarises what the treasury could buy back right now.
type Upside struct {
	TotalUSD    *big.Int
	Threshold   *big.Int
	Enabled     bool
	Triggerable bool
}
