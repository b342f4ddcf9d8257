package oracle

import "math/big"

// USDDecimals is the fixed-point precision of USD amounts.
const USDDecimals = 18

var usdScale = pow10(USDDecimals)

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// USD converts a whole number of dollars into USD fixed point.
func USD(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), usdScale)
}

// USDCents converts cents into USD fixed point.
func USDCents(cents int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(cents), pow10(USDDecimals-2))
}

// USDValue prices amount base units of a token with tokenDecimals. The
// result is rounded down.
func USDValue(amount *big.Int, tokenDecimals uint8, quote Quote) *big.Int {
	if amount == nil || amount.Sign() <= 0 || quote.Price == nil {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(amount, quote.Price)
	num.Mul(num, usdScale)
	den := new(big.Int).Mul(pow10(tokenDecimals), pow10(quote.Decimals))
	return num.Quo(num, den)
}

// TokenAmount converts a USD fixed-point value into token base units at the
// quote. The result is rounded down.
func TokenAmount(usd *big.Int, tokenDecimals uint8, quote Quote) *big.Int {
	if usd == nil || usd.Sign() <= 0 || quote.Price == nil || quote.Price.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(usd, pow10(tokenDecimals))
	num.Mul(num, pow10(quote.Decimals))
	den := new(big.Int).Mul(quote.Price, usdScale)
	return num.Quo(num, den)
}
