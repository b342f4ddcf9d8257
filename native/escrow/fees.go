package escrow

import (
	"math/big"

	"securepay/native/oracle"
)

// FeeUSD clamps usd*feeBps/10000 into [floor, cap].
func FeeUSD(usd *big.Int, params Params) *big.Int {
	fee := new(big.Int).Mul(cloneBigInt(usd), new(big.Int).SetUint64(uint64(params.FeeBps)))
	fee.Quo(fee, big.NewInt(10_000))
	if params.FeeCapUSD != nil && fee.Cmp(params.FeeCapUSD) > 0 {
		fee.Set(params.FeeCapUSD)
	}
	if params.FeeFloorUSD != nil && fee.Cmp(params.FeeFloorUSD) < 0 {
		fee.Set(params.FeeFloorUSD)
	}
	return fee
}

// FeeQuote describes the fee charged for a transfer.
type FeeQuote struct {
	ValueUSD *big.Int
	FeeUSD   *big.Int
	Fee      *big.Int
}

// ComputeFee prices amount at quote and converts the clamped USD fee back
// into token units at the same quote.
func ComputeFee(amount *big.Int, tokenDecimals uint8, quote oracle.Quote, params Params) FeeQuote {
	usd := oracle.USDValue(amount, tokenDecimals, quote)
	feeUSD := FeeUSD(usd, params)
	return FeeQuote{
		ValueUSD: usd,
		FeeUSD:   feeUSD,
		Fee:      oracle.TokenAmount(feeUSD, tokenDecimals, quote),
	}
}
