package runtime

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"securepay/native/treasury"
)

// SetBuybackEnabled toggles buybacks. Owner only.
func (r *Runtime) SetBuybackEnabled(caller common.Address, enabled bool) error {
	return r.apply("SetBuybackEnabled", func() error { return r.treasury.SetBuybackEnabled(caller, enabled) })
}

// SetThreshold sets the USD value at which buybacks become triggerable.
func (r *Runtime) SetThreshold(caller common.Address, usd *big.Int) error {
	return r.apply("SetThreshold", func() error { return r.treasury.SetThreshold(caller, usd) })
}

// SetReference configures the bought-and-burned asset and the path bridge.
func (r *Runtime) SetReference(caller, reference, bridge common.Address) error {
	return r.apply("SetReference", func() error { return r.treasury.SetReference(caller, reference, bridge) })
}

// SetTokenSupported marks token as eligible for buybacks. Owner only.
func (r *Runtime) SetTokenSupported(caller, token common.Address, supported bool) error {
	return r.apply("SetTokenSupported", func() error { return r.treasury.SetTokenSupported(caller, token, supported) })
}

// SetKeeper grants or revokes the keeper role. Owner only.
func (r *Runtime) SetKeeper(caller, keeper common.Address, allowed bool) error {
	return r.apply("SetKeeper", func() error { return r.treasury.SetKeeper(caller, keeper, allowed) })
}

// SetSwapPath overrides the conversion path of token. Owner only.
func (r *Runtime) SetSwapPath(caller, token common.Address, path []common.Address) error {
	return r.apply("SetSwapPath", func() error { return r.treasury.SetSwapPath(caller, token, path) })
}

// CheckUpside values the treasury holdings of tokens in USD.
func (r *Runtime) CheckUpside(tokens []common.Address, includeNative bool) (treasury.Upside, error) {
	var upside treasury.Upside
	err := r.view(func() error {
		var err error
		upside, err = r.treasury.CheckUpside(tokens, includeNative)
		return err
	})
	return upside, err
}

// ExecuteBuybackAndBurn converts treasury holdings into the reference asset
// and burns the output. Per-token failures are reported in the results and
// do not fail the command.
func (r *Runtime) ExecuteBuybackAndBurn(caller common.Address, tokens []common.Address, minOuts []*big.Int, minFromNative *big.Int, includeNative bool) ([]treasury.BuybackResult, error) {
	var results []treasury.BuybackResult
	err := r.apply("ExecuteBuybackAndBurn", func() error {
		var err error
		results, err = r.treasury.ExecuteBuybackAndBurn(caller, tokens, minOuts, minFromNative, includeNative)
		return err
	})
	return results, err
}

// EmergencyWithdraw moves treasury funds to to. Owner only.
func (r *Runtime) EmergencyWithdraw(caller, token, to common.Address, amount *big.Int) (*big.Int, error) {
	var moved *big.Int
	err := r.apply("EmergencyWithdraw", func() error {
		var err error
		moved, err = r.treasury.EmergencyWithdraw(caller, token, to, amount)
		return err
	})
	return moved, err
}

// TreasuryConfig returns the buyback configuration.
func (r *Runtime) TreasuryConfig() (treasury.Config, error) {
	var cfg treasury.Config
	err := r.view(func() error {
		var err error
		cfg, err = r.treasury.Config()
		return err
	})
	return cfg, err
}

// QuoteSwap prices amountIn along path at the router's current rates.
func (r *Runtime) QuoteSwap(path []common.Address, amountIn *big.Int) (*big.Int, error) {
	var out *big.Int
	err := r.view(func() error {
		var err error
		out, err = r.router.Quote(path, amountIn)
		return err
	})
	return out, err
}

// SwapPath returns the route the treasury uses to buy back with token.
func (r *Runtime) SwapPath(token common.Address) ([]common.Address, error) {
	var path []common.Address
	err := r.view(func() error {
		var err error
		path, err = r.treasury.SwapPath(token)
		return err
	})
	return path, err
}
