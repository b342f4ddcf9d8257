package runtime

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"securepay/native/access"
	"securepay/native/bank"
	"securepay/native/oracle"
)

// RegisterToken adds an asset to the ledger. Owner only.
func (r *Runtime) RegisterToken(caller, token common.Address, symbol string, decimals uint8) error {
	return r.apply("RegisterToken", func() error { return r.bank.RegisterToken(caller, token, symbol, decimals) })
}

// Mint creates amount of token for to. Owner only.
func (r *Runtime) Mint(caller, token, to common.Address, amount *big.Int) error {
	return r.apply("Mint", func() error { return r.bank.Mint(caller, token, to, amount) })
}

// Transfer moves amount of token between accounts.
func (r *Runtime) Transfer(token, from, to common.Address, amount *big.Int) error {
	return r.apply("Transfer", func() error { return r.bank.Transfer(token, from, to, amount) })
}

// Approve sets spender's allowance over owner's token.
func (r *Runtime) Approve(owner, token, spender common.Address, amount *big.Int) error {
	return r.apply("Approve", func() error { return r.bank.Approve(owner, token, spender, amount) })
}

// BalanceOf returns account's balance of token.
func (r *Runtime) BalanceOf(token, account common.Address) (*big.Int, error) {
	var bal *big.Int
	err := r.view(func() error {
		var err error
		bal, err = r.bank.BalanceOf(token, account)
		return err
	})
	return bal, err
}

// TotalSupply returns the circulating supply of token.
func (r *Runtime) TotalSupply(token common.Address) (*big.Int, error) {
	var supply *big.Int
	err := r.view(func() error {
		var err error
		supply, err = r.bank.TotalSupply(token)
		return err
	})
	return supply, err
}

// TokenInfo returns the registered metadata of token.
func (r *Runtime) TokenInfo(token common.Address) (bank.TokenInfo, error) {
	var info bank.TokenInfo
	err := r.view(func() error {
		var err error
		info, err = r.bank.TokenInfo(token)
		return err
	})
	return info, err
}

// PermitDigest returns the digest owner signs to grant spender value, using
// owner's next permit nonce.
func (r *Runtime) PermitDigest(token, owner, spender common.Address, value *big.Int, deadline int64) ([32]byte, error) {
	var digest [32]byte
	err := r.view(func() error {
		nonce, err := r.bank.PermitNonce(token, owner)
		if err != nil {
			return err
		}
		digest, err = r.bank.PermitDigest(token, owner, spender, value, nonce, deadline)
		return err
	})
	return digest, err
}

// Grant gives addr role. Owner only.
func (r *Runtime) Grant(caller common.Address, role access.Role, addr common.Address) error {
	return r.apply("Grant", func() error { return r.access.Grant(caller, role, addr) })
}

// Revoke removes role from addr. Owner only.
func (r *Runtime) Revoke(caller common.Address, role access.Role, addr common.Address) error {
	return r.apply("Revoke", func() error { return r.access.Revoke(caller, role, addr) })
}

// TransferOwnership hands the owner role to next.
func (r *Runtime) TransferOwnership(caller, next common.Address) error {
	return r.apply("TransferOwnership", func() error { return r.access.TransferOwnership(caller, next) })
}

// HasRole reports whether addr holds role.
func (r *Runtime) HasRole(role access.Role, addr common.Address) (bool, error) {
	var ok bool
	err := r.view(func() error {
		var err error
		ok, err = r.access.HasRole(role, addr)
		return err
	})
	return ok, err
}

// SetTokenPriceFeed binds token to an oracle feed. Owner only.
func (r *Runtime) SetTokenPriceFeed(caller, token common.Address, feed string) error {
	return r.apply("SetTokenPriceFeed", func() error { return r.oracle.SetTokenPriceFeed(caller, token, feed) })
}

// SetTokenHeartbeat overrides the staleness bound of token. Owner only.
func (r *Runtime) SetTokenHeartbeat(caller, token common.Address, seconds uint64) error {
	return r.apply("SetTokenHeartbeat", func() error { return r.oracle.SetTokenHeartbeat(caller, token, seconds) })
}

// SetDefaultHeartbeat sets the staleness bound of tokens without an override.
func (r *Runtime) SetDefaultHeartbeat(caller common.Address, seconds uint64) error {
	return r.apply("SetDefaultHeartbeat", func() error { return r.oracle.SetDefaultHeartbeat(caller, seconds) })
}

// PublishPrice records a feed round. Oracle role only.
func (r *Runtime) PublishPrice(caller common.Address, feed string, price *big.Int, decimals uint8, updatedAt int64) error {
	return r.apply("PublishPrice", func() error { return r.oracle.Publish(caller, feed, price, decimals, updatedAt) })
}

// Price returns the fresh quote of token.
func (r *Runtime) Price(token common.Address) (oracle.Quote, error) {
	var quote oracle.Quote
	err := r.view(func() error {
		var err error
		quote, err = r.oracle.Price(token, r.now())
		return err
	})
	return quote, err
}
