// Package treasury accumulates protocol fees and converts them into
// buy-and-burn operations against a reference asset.
package treasury

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"securepay/core/events"
	"securepay/native/access"
	"securepay/native/bank"
	"securepay/native/oracle"
)

var (
	ErrBuybackDisabled  = errors.New("treasury: buyback disabled")
	ErrLengthMismatch   = errors.New("treasury: tokens and minimum outputs differ in length")
	ErrReferenceNotSet  = errors.New("treasury: reference asset not configured")
	ErrInvalidThreshold = errors.New("treasury: threshold must be non-negative")
	ErrInvalidWithdraw  = errors.New("treasury: invalid withdrawal")

	errNilState  = errors.New("treasury engine: state not configured")
	errNilBank   = errors.New("treasury engine: bank not configured")
	errNilOracle = errors.New("treasury engine: oracle not configured")
	errNilRouter = errors.New("treasury engine: router not configured")
)

type engineState interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVHas(key []byte) (bool, error)
	KVDelete(key []byte) error
	KVGetList(key []byte, out interface{}) error
}

type snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

type ledger interface {
	TokenInfo(token common.Address) (bank.TokenInfo, error)
	BalanceOf(token, account common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
	Burn(token, from common.Address, amount *big.Int) error
}

type priceSource interface {
	Price(token common.Address, now int64) (oracle.Quote, error)
}

type roles interface {
	Require(addr common.Address, roles ...access.Role) error
	Grant(caller common.Address, role access.Role, addr common.Address) error
	Revoke(caller common.Address, role access.Role, addr common.Address) error
}

var configKey = []byte("treasury/config")

func supportedKey(token common.Address) []byte {
	return []byte(fmt.Sprintf("treasury/supported/%x", token.Bytes()))
}

func pathKey(token common.Address) []byte {
	return []byte(fmt.Sprintf("treasury/path/%x", token.Bytes()))
}

// Engine holds the treasury account and runs buybacks.
type Engine struct {
	state   engineState
	bank    ledger
	prices  priceSource
	roles   roles
	router  Router
	emitter events.Emitter
	logger  *slog.Logger
	account common.Address
	nowFn   func() int64
}

// NewEngine creates a treasury engine holding funds in the treasury module
// account.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		account: bank.ModuleAccount("treasury"),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank configures the asset-movement collaborator.
func (e *Engine) SetBank(l ledger) { e.bank = l }

// SetPriceSource configures the oracle used to value holdings.
func (e *Engine) SetPriceSource(p priceSource) { e.prices = p }

// SetRoles configures the role registry.
func (e *Engine) SetRoles(r roles) { e.roles = r }

// SetRouter configures the conversion collaborator.
func (e *Engine) SetRouter(r Router) { e.router = r }

// Account returns the address holding treasury funds.
func (e *Engine) Account() common.Address { return e.account }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.bank == nil:
		return errNilBank
	case e.prices == nil:
		return errNilOracle
	}
	return nil
}

func (e *Engine) requireOwner(caller common.Address) error {
	if e.roles == nil {
		return nil
	}
	return e.roles.Require(caller, access.RoleOwner)
}

// Config returns the stored buyback configuration.
func (e *Engine) Config() (Config, error) {
	if e == nil || e.state == nil {
		return Config{}, errNilState
	}
	var cfg Config
	ok, err := e.state.KVGet(configKey, &cfg)
	if err != nil {
		return Config{}, err
	}
	if !ok || cfg.Threshold == nil {
		cfg.Threshold = big.NewInt(0)
	}
	return cfg, nil
}

func (e *Engine) updateConfig(caller common.Address, mutate func(*Config) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	cfg, err := e.Config()
	if err != nil {
		return err
	}
	if err := mutate(&cfg); err != nil {
		return err
	}
	return e.state.KVPut(configKey, cfg)
}

// SetBuybackEnabled toggles buybacks. Owner only.
func (e *Engine) SetBuybackEnabled(caller common.Address, enabled bool) error {
	return e.updateConfig(caller, func(cfg *Config) error {
		cfg.Enabled = enabled
		return nil
	})
}

// SetThreshold sets the USD value at which CheckUpside reports a buyback as
// triggerable. Owner only.
func (e *Engine) SetThreshold(caller common.Address, usd *big.Int) error {
	if usd == nil || usd.Sign() < 0 {
		return ErrInvalidThreshold
	}
	return e.updateConfig(caller, func(cfg *Config) error {
		cfg.Threshold = new(big.Int).Set(usd)
		return nil
	})
}

// SetReference configures the asset that is bought and burned and the
// bridge asset of default swap paths. A zero bridge routes directly.
func (e *Engine) SetReference(caller, reference, bridge common.Address) error {
	if reference == bank.NativeToken {
		return fmt.Errorf("%w: native asset cannot be the reference", ErrReferenceNotSet)
	}
	if e.bank != nil {
		if _, err := e.bank.TokenInfo(reference); err != nil {
			return err
		}
	}
	return e.updateConfig(caller, func(cfg *Config) error {
		cfg.Reference = reference
		cfg.Bridge = bridge
		return nil
	})
}

// SetTokenSupported marks token as eligible for buybacks. Owner only.
func (e *Engine) SetTokenSupported(caller, token common.Address, supported bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if !supported {
		return e.state.KVDelete(supportedKey(token))
	}
	if e.bank != nil {
		if _, err := e.bank.TokenInfo(token); err != nil {
			return err
		}
	}
	return e.state.KVPut(supportedKey(token), true)
}

// IsSupported reports whether token may be bought back. The native asset is
// always supported.
func (e *Engine) IsSupported(token common.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	if token == bank.NativeToken {
		return true, nil
	}
	return e.state.KVHas(supportedKey(token))
}

// SetKeeper grants or revokes the keeper capability. Owner only.
func (e *Engine) SetKeeper(caller, keeper common.Address, allowed bool) error {
	if e.roles == nil {
		return fmt.Errorf("treasury: role registry not configured")
	}
	if allowed {
		return e.roles.Grant(caller, access.RoleKeeper, keeper)
	}
	return e.roles.Revoke(caller, access.RoleKeeper, keeper)
}

// SetSwapPath overrides the route used for token. An empty path restores the
// default. Owner only.
func (e *Engine) SetSwapPath(caller, token common.Address, path []common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if len(path) == 0 {
		return e.state.KVDelete(pathKey(token))
	}
	cfg, err := e.Config()
	if err != nil {
		return err
	}
	if cfg.Reference == (common.Address{}) {
		return ErrReferenceNotSet
	}
	if len(path) < 2 || path[0] != token || path[len(path)-1] != cfg.Reference {
		return fmt.Errorf("%w: must run from %s to %s", ErrInvalidPath, token.Hex(), cfg.Reference.Hex())
	}
	return e.state.KVPut(pathKey(token), append([]common.Address(nil), path...))
}

// SwapPath returns the configured path for token or the default
// token -> bridge -> reference route.
func (e *Engine) SwapPath(token common.Address) ([]common.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var path []common.Address
	if err := e.state.KVGetList(pathKey(token), &path); err != nil {
		return nil, err
	}
	if len(path) > 0 {
		return path, nil
	}
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	if cfg.Reference == (common.Address{}) {
		return nil, ErrReferenceNotSet
	}
	if token == cfg.Reference {
		return []common.Address{token}, nil
	}
	if cfg.Bridge == (common.Address{}) || cfg.Bridge == token || cfg.Bridge == cfg.Reference {
		return []common.Address{token, cfg.Reference}, nil
	}
	return []common.Address{token, cfg.Bridge, cfg.Reference}, nil
}

// CheckUpside sums the USD value of the treasury's balance of every listed
// token, plus the native balance when includeNative is set. A token listed
// twice contributes twice.
func (e *Engine) CheckUpside(tokens []common.Address, includeNative bool) (Upside, error) {
	if err := e.ready(); err != nil {
		return Upside{}, err
	}
	cfg, err := e.Config()
	if err != nil {
		return Upside{}, err
	}
	now := e.now()
	total := big.NewInt(0)
	assets := tokens
	if includeNative {
		assets = append(append([]common.Address(nil), tokens...), bank.NativeToken)
	}
	for _, token := range assets {
		usd, err := e.valueOf(token, now)
		if err != nil {
			return Upside{}, err
		}
		total.Add(total, usd)
	}
	return Upside{
		TotalUSD:    total,
		Threshold:   new(big.Int).Set(cfg.Threshold),
		Enabled:     cfg.Enabled,
		Triggerable: cfg.Enabled && total.Cmp(cfg.Threshold) >= 0,
	}, nil
}

func (e *Engine) valueOf(token common.Address, now int64) (*big.Int, error) {
	balance, err := e.bank.BalanceOf(token, e.account)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	info, err := e.bank.TokenInfo(token)
	if err != nil {
		return nil, err
	}
	quote, err := e.prices.Price(token, now)
	if err != nil {
		return nil, fmt.Errorf("treasury: price %s: %w", token.Hex(), err)
	}
	return oracle.USDValue(balance, info.Decimals, quote), nil
}

// ExecuteBuybackAndBurn swaps the full treasury balance of every listed
// token, and of the native asset when includeNative is set, into the
// reference asset and burns the output. Each asset is processed in
// isolation: a failure is rolled back, reported and skipped. Keeper or owner
// only.
func (e *Engine) ExecuteBuybackAndBurn(caller common.Address, tokens []common.Address, minOuts []*big.Int, minFromNative *big.Int, includeNative bool) ([]BuybackResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.roles != nil {
		if err := e.roles.Require(caller, access.RoleKeeper, access.RoleOwner); err != nil {
			return nil, err
		}
	}
	if e.router == nil {
		return nil, errNilRouter
	}
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, ErrBuybackDisabled
	}
	if cfg.Reference == (common.Address{}) {
		return nil, ErrReferenceNotSet
	}
	if len(minOuts) != len(tokens) {
		return nil, fmt.Errorf("%w: %d tokens, %d minimums", ErrLengthMismatch, len(tokens), len(minOuts))
	}
	results := make([]BuybackResult, 0, len(tokens)+1)
	for i, token := range tokens {
		results = append(results, e.buyback(cfg, token, minOuts[i], false))
	}
	if includeNative {
		results = append(results, e.buyback(cfg, bank.NativeToken, minFromNative, true))
	}
	return results, nil
}

func (e *Engine) buyback(cfg Config, token common.Address, minOut *big.Int, native bool) BuybackResult {
	result := BuybackResult{Token: token, Native: native, AmountIn: big.NewInt(0), AmountOut: big.NewInt(0)}
	fail := func(reason string, err error) BuybackResult {
		result.Reason = reason
		attrs := []any{slog.String("token", token.Hex()), slog.String("reason", reason)}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		e.logger.Warn("treasury buyback failed", attrs...)
		e.emit(events.BuybackFailed{Token: token, AmountIn: new(big.Int).Set(result.AmountIn), Reason: reason})
		return result
	}
	if !native {
		supported, err := e.IsSupported(token)
		if err != nil {
			return fail(ReasonSwapFailed, err)
		}
		if !supported {
			return fail(ReasonUnsupportedToken, nil)
		}
	}
	balance, err := e.bank.BalanceOf(token, e.account)
	if err != nil {
		return fail(ReasonSwapFailed, err)
	}
	if balance.Sign() == 0 {
		return fail(ReasonZeroBalance, nil)
	}
	result.AmountIn = new(big.Int).Set(balance)
	path, err := e.SwapPath(token)
	if err != nil {
		return fail(ReasonSwapFailed, err)
	}
	result.Path = path

	snap, canRevert := e.state.(snapshotter)
	mark := 0
	if canRevert {
		mark = snap.Snapshot()
	}
	revert := func() {
		if canRevert {
			snap.RevertToSnapshot(mark)
		}
	}
	out := new(big.Int).Set(balance)
	if len(path) > 1 {
		out, err = e.router.Swap(e.account, path, balance, minOut)
		if err != nil {
			revert()
			return fail(classifySwapError(err), err)
		}
	} else if minOut != nil && out.Cmp(minOut) < 0 {
		return fail(ReasonSlippage, nil)
	}
	if err := e.bank.Burn(cfg.Reference, e.account, out); err != nil {
		revert()
		return fail(ReasonBurnFailed, err)
	}
	result.AmountOut = new(big.Int).Set(out)
	result.Success = true
	e.emit(events.BuybackExecuted{
		Token:     token,
		AmountIn:  new(big.Int).Set(balance),
		AmountOut: new(big.Int).Set(out),
		Path:      append([]common.Address(nil), path...),
	})
	e.logger.Info("treasury buyback executed",
		slog.String("token", token.Hex()),
		slog.String("amountIn", balance.String()),
		slog.String("amountOut", out.String()))
	return result
}

func classifySwapError(err error) string {
	switch {
	case errors.Is(err, ErrSlippage):
		return ReasonSlippage
	case errors.Is(err, ErrInsufficientLiquidity):
		return ReasonInsufficientLiquidity
	case errors.Is(err, oracle.ErrNotConfigured),
		errors.Is(err, oracle.ErrStale),
		errors.Is(err, oracle.ErrNoRound),
		errors.Is(err, oracle.ErrInvalidPrice):
		return ReasonPriceUnavailable
	default:
		return ReasonSwapFailed
	}
}

// EmergencyWithdraw moves amount of token out of the treasury. A nil amount
// withdraws the full balance. Owner only.
func (e *Engine) EmergencyWithdraw(caller, token, to common.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.requireOwner(caller); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero recipient", ErrInvalidWithdraw)
	}
	if amount == nil {
		balance, err := e.bank.BalanceOf(token, e.account)
		if err != nil {
			return nil, err
		}
		amount = balance
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: nothing to withdraw", ErrInvalidWithdraw)
	}
	if err := e.bank.Transfer(token, e.account, to, amount); err != nil {
		return nil, err
	}
	e.emit(events.TreasuryWithdrawal{Token: token, To: to, Amount: new(big.Int).Set(amount)})
	e.logger.Warn("treasury emergency withdrawal", slog.String("token", token.Hex()), slog.String("to", to.Hex()), slog.String("amount", amount.String()))
	return new(big.Int).Set(amount), nil
}
