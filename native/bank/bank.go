// Package bank moves balances for the native asset and registered tokens. It
// is the asset-movement collaborator used by escrow, treasury and rewards.
package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"securepay/crypto"
	"securepay/native/access"
)

var (
	ErrUnknownToken           = errors.New("bank: unknown token")
	ErrTokenExists            = errors.New("bank: token already registered")
	ErrInvalidAmount          = errors.New("bank: amount must be positive")
	ErrInsufficientBalance    = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance  = errors.New("bank: insufficient allowance")
	ErrPermitUnsupported      = errors.New("bank: permit unsupported for native asset")
	ErrPermitExpired          = errors.New("bank: permit expired")
	ErrPermitSignerMismatch   = errors.New("bank: permit signer mismatch")
	ErrVerifierNotConfigured  = errors.New("bank: verifier not configured")
	errNilState               = errors.New("bank: state not configured")
	errInvalidTokenDefinition = errors.New("bank: invalid token definition")
)

// NativeToken is the sentinel identifying the chain-native asset.
var NativeToken = common.Address{}

const (
	NativeSymbol   = "SPN"
	NativeDecimals = 18
	maxDecimals    = 36
)

// TokenInfo describes a registered asset.
type TokenInfo struct {
	Symbol   string
	Decimals uint8
}

// ModuleAccount derives the deterministic account that holds funds on behalf
// of a module. No private key exists for these addresses.
func ModuleAccount(name string) common.Address {
	hash := crypto.Keccak256([]byte("securepay/module/" + strings.ToLower(strings.TrimSpace(name))))
	return common.BytesToAddress(hash[12:])
}

type kvStore interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVHas(key []byte) (bool, error)
	KVDelete(key []byte) error
}

type authorizer interface {
	Require(addr common.Address, roles ...access.Role) error
}

// Ledger tracks balances, allowances and permit nonces in state.
type Ledger struct {
	state    kvStore
	auth     authorizer
	verifier crypto.Verifier
	domainID uint64
}

// NewLedger creates a ledger. The verifier may be nil when permits are not
// used.
func NewLedger(state kvStore, auth authorizer, verifier crypto.Verifier, domainID uint64) *Ledger {
	return &Ledger{state: state, auth: auth, verifier: verifier, domainID: domainID}
}

func tokenKey(token common.Address) []byte {
	return []byte(fmt.Sprintf("bank/token/%x", token.Bytes()))
}

func balanceKey(token, account common.Address) []byte {
	return []byte(fmt.Sprintf("bank/balance/%x/%x", token.Bytes(), account.Bytes()))
}

func supplyKey(token common.Address) []byte {
	return []byte(fmt.Sprintf("bank/supply/%x", token.Bytes()))
}

func allowanceKey(token, owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("bank/allowance/%x/%x/%x", token.Bytes(), owner.Bytes(), spender.Bytes()))
}

func permitNonceKey(token, owner common.Address) []byte {
	return []byte(fmt.Sprintf("bank/permit-nonce/%x/%x", token.Bytes(), owner.Bytes()))
}

// RegisterToken records the symbol and decimals of a token. Owner only.
func (l *Ledger) RegisterToken(caller, token common.Address, symbol string, decimals uint8) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if l.auth != nil {
		if err := l.auth.Require(caller, access.RoleOwner); err != nil {
			return err
		}
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if token == NativeToken || symbol == "" || decimals > maxDecimals {
		return errInvalidTokenDefinition
	}
	exists, err := l.state.KVHas(tokenKey(token))
	if err != nil {
		return err
	}
	if exists {
		return ErrTokenExists
	}
	return l.state.KVPut(tokenKey(token), TokenInfo{Symbol: symbol, Decimals: decimals})
}

// TokenInfo returns the registration for token. The native asset is always
// registered.
func (l *Ledger) TokenInfo(token common.Address) (TokenInfo, error) {
	if token == NativeToken {
		return TokenInfo{Symbol: NativeSymbol, Decimals: NativeDecimals}, nil
	}
	if l == nil || l.state == nil {
		return TokenInfo{}, errNilState
	}
	var info TokenInfo
	ok, err := l.state.KVGet(tokenKey(token), &info)
	if err != nil {
		return TokenInfo{}, err
	}
	if !ok {
		return TokenInfo{}, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return info, nil
}

func (l *Ledger) readAmount(key []byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	value := new(big.Int)
	ok, err := l.state.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (l *Ledger) writeAmount(key []byte, value *big.Int) error {
	if value.Sign() == 0 {
		return l.state.KVDelete(key)
	}
	return l.state.KVPut(key, value)
}

// BalanceOf returns the balance of account in token.
func (l *Ledger) BalanceOf(token, account common.Address) (*big.Int, error) {
	if _, err := l.TokenInfo(token); err != nil {
		return nil, err
	}
	return l.readAmount(balanceKey(token, account))
}

// TotalSupply returns the circulating supply of token.
func (l *Ledger) TotalSupply(token common.Address) (*big.Int, error) {
	if _, err := l.TokenInfo(token); err != nil {
		return nil, err
	}
	return l.readAmount(supplyKey(token))
}

func (l *Ledger) adjust(token, account common.Address, delta *big.Int) error {
	bal, err := l.readAmount(balanceKey(token, account))
	if err != nil {
		return err
	}
	next := new(big.Int).Add(bal, delta)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, account.Hex(), bal, new(big.Int).Neg(delta))
	}
	return l.writeAmount(balanceKey(token, account), next)
}

func (l *Ledger) adjustSupply(token common.Address, delta *big.Int) error {
	supply, err := l.readAmount(supplyKey(token))
	if err != nil {
		return err
	}
	next := new(big.Int).Add(supply, delta)
	if next.Sign() < 0 {
		return ErrInsufficientBalance
	}
	return l.writeAmount(supplyKey(token), next)
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Mint credits newly issued units to account. Owner only.
func (l *Ledger) Mint(caller, token, to common.Address, amount *big.Int) error {
	if l.auth != nil {
		if err := l.auth.Require(caller, access.RoleOwner); err != nil {
			return err
		}
	}
	if err := validAmount(amount); err != nil {
		return err
	}
	if _, err := l.TokenInfo(token); err != nil {
		return err
	}
	if err := l.adjust(token, to, amount); err != nil {
		return err
	}
	return l.adjustSupply(token, amount)
}

// Burn destroys amount units held by from.
func (l *Ledger) Burn(token, from common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if _, err := l.TokenInfo(token); err != nil {
		return err
	}
	neg := new(big.Int).Neg(amount)
	if err := l.adjust(token, from, neg); err != nil {
		return err
	}
	return l.adjustSupply(token, neg)
}

// Transfer moves amount of token from one account to another. The caller is
// responsible for having authenticated from.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if _, err := l.TokenInfo(token); err != nil {
		return err
	}
	if from == to {
		bal, err := l.readAmount(balanceKey(token, from))
		if err != nil {
			return err
		}
		if bal.Cmp(amount) < 0 {
			return ErrInsufficientBalance
		}
		return nil
	}
	if err := l.adjust(token, from, new(big.Int).Neg(amount)); err != nil {
		return err
	}
	return l.adjust(token, to, amount)
}

// Approve sets the allowance spender may draw from owner.
func (l *Ledger) Approve(owner, token, spender common.Address, amount *big.Int) error {
	if _, err := l.TokenInfo(token); err != nil {
		return err
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return l.writeAmount(allowanceKey(token, owner, spender), amount)
}

// Allowance returns what spender may still draw from owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	return l.readAmount(allowanceKey(token, owner, spender))
}

// TransferFrom moves amount from owner to to on behalf of spender, consuming
// allowance.
func (l *Ledger) TransferFrom(spender, token, owner, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	allowance, err := l.Allowance(token, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s approved %s, needs %s", ErrInsufficientAllowance, spender.Hex(), allowance, amount)
	}
	if err := l.Transfer(token, owner, to, amount); err != nil {
		return err
	}
	return l.writeAmount(allowanceKey(token, owner, spender), new(big.Int).Sub(allowance, amount))
}
