package treasury

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"securepay/native/bank"
	"securepay/native/oracle"
)

var (
	ErrInvalidPath           = errors.New("treasury router: invalid swap path")
	ErrSlippage              = errors.New("treasury router: output below minimum")
	ErrInsufficientLiquidity = errors.New("treasury router: insufficient liquidity")
)

// Router converts an input amount along path into the last asset of the path
// for account from. Implementations must either move both legs or neither.
type Router interface {
	Swap(from common.Address, path []common.Address, amountIn, minOut *big.Int) (*big.Int, error)
}

type routerBank interface {
	TokenInfo(token common.Address) (bank.TokenInfo, error)
	BalanceOf(token, account common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
}

// OracleRouter is the reference conversion collaborator. It quotes every hop
// at oracle prices less a fixed haircut and settles against a liquidity
// account held in the bank.
type OracleRouter struct {
	bank        routerBank
	prices      priceSource
	liquidity   common.Address
	slippageBps uint32
	nowFn       func() int64
}

// NewOracleRouter creates a router. slippageBps is charged once per hop.
func NewOracleRouter(b routerBank, prices priceSource, liquidity common.Address, slippageBps uint32) *OracleRouter {
	if slippageBps > 10_000 {
		slippageBps = 10_000
	}
	return &OracleRouter{
		bank:        b,
		prices:      prices,
		liquidity:   liquidity,
		slippageBps: slippageBps,
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the clock used to read prices.
func (r *OracleRouter) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	r.nowFn = now
}

// Liquidity returns the account that sources swap output.
func (r *OracleRouter) Liquidity() common.Address { return r.liquidity }

// Quote returns the output amountIn would realise along path.
func (r *OracleRouter) Quote(path []common.Address, amountIn *big.Int) (*big.Int, error) {
	if len(path) < 2 {
		return nil, ErrInvalidPath
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, bank.ErrInvalidAmount
	}
	now := r.nowFn()
	amount := new(big.Int).Set(amountIn)
	haircut := big.NewInt(int64(10_000 - r.slippageBps))
	for i := 0; i+1 < len(path); i++ {
		in, out := path[i], path[i+1]
		if in == out {
			return nil, fmt.Errorf("%w: repeated hop %s", ErrInvalidPath, in.Hex())
		}
		inInfo, err := r.bank.TokenInfo(in)
		if err != nil {
			return nil, err
		}
		outInfo, err := r.bank.TokenInfo(out)
		if err != nil {
			return nil, err
		}
		inQuote, err := r.prices.Price(in, now)
		if err != nil {
			return nil, err
		}
		outQuote, err := r.prices.Price(out, now)
		if err != nil {
			return nil, err
		}
		usd := oracle.USDValue(amount, inInfo.Decimals, inQuote)
		usd.Mul(usd, haircut)
		usd.Quo(usd, big.NewInt(10_000))
		amount = oracle.TokenAmount(usd, outInfo.Decimals, outQuote)
	}
	return amount, nil
}

// Swap implements Router.
func (r *OracleRouter) Swap(from common.Address, path []common.Address, amountIn, minOut *big.Int) (*big.Int, error) {
	out, err := r.Quote(path, amountIn)
	if err != nil {
		return nil, err
	}
	if out.Sign() == 0 || (minOut != nil && out.Cmp(minOut) < 0) {
		return nil, fmt.Errorf("%w: quoted %s, minimum %v", ErrSlippage, out, minOut)
	}
	target := path[len(path)-1]
	available, err := r.bank.BalanceOf(target, r.liquidity)
	if err != nil {
		return nil, err
	}
	if available.Cmp(out) < 0 {
		return nil, fmt.Errorf("%w: need %s, have %s", ErrInsufficientLiquidity, out, available)
	}
	if err := r.bank.Transfer(path[0], from, r.liquidity, amountIn); err != nil {
		return nil, err
	}
	if err := r.bank.Transfer(target, r.liquidity, from, out); err != nil {
		return nil, err
	}
	return out, nil
}
