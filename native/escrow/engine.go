// Package escrow implements secured transfers: a sender locks funds for a
// receiver and later releases or withdraws them.
package escrow

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"securepay/core/events"
	"securepay/native/access"
	"securepay/native/bank"
	"securepay/native/oracle"
)

var (
	ErrInvalidReceiver   = errors.New("escrow: invalid receiver")
	ErrInvalidSender     = errors.New("escrow: invalid sender")
	ErrSelfTransfer      = errors.New("escrow: receiver equals sender")
	ErrInvalidAmount     = errors.New("escrow: amount must be positive")
	ErrBelowMinimum      = errors.New("escrow: amount below minimum transfer value")
	ErrOutboxFull        = errors.New("escrow: too many pending transfers")
	ErrNotActive         = errors.New("escrow: transfer not active")
	ErrNotSender         = errors.New("escrow: caller is not the sender")
	ErrZeroFee           = errors.New("escrow: fee rounds to zero")
	ErrPermitUnsupported = bank.ErrPermitUnsupported

	errNilState    = errors.New("escrow engine: state not configured")
	errNilBank     = errors.New("escrow engine: bank not configured")
	errNilOracle   = errors.New("escrow engine: oracle not configured")
	errNilTreasury = errors.New("escrow engine: fee treasury not configured")
)

type engineState interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVDelete(key []byte) error
	KVGetList(key []byte, out interface{}) error
}

// snapshotter is implemented by journaled state; ForceExpireBatch uses it to
// roll back a failed refund without touching its siblings.
type snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

type ledger interface {
	TokenInfo(token common.Address) (bank.TokenInfo, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(spender, token, owner, to common.Address, amount *big.Int) error
	Permit(token, owner, spender common.Address, value *big.Int, deadline int64, sig []byte, now int64) error
}

type priceSource interface {
	Price(token common.Address, now int64) (oracle.Quote, error)
}

type authorizer interface {
	Require(addr common.Address, roles ...access.Role) error
}

// Engine owns the transfer ledger, the outbox/inbox indices and the per-day
// completion counters.
type Engine struct {
	state    engineState
	bank     ledger
	prices   priceSource
	auth     authorizer
	emitter  events.Emitter
	logger   *slog.Logger
	vault    common.Address
	treasury common.Address
	nowFn    func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. The vault defaults
// to the escrow module account.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		vault:   bank.ModuleAccount("escrow"),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank configures the asset-movement collaborator.
func (e *Engine) SetBank(l ledger) { e.bank = l }

// SetPriceSource configures the oracle used to price transfers.
func (e *Engine) SetPriceSource(p priceSource) { e.prices = p }

// SetAuthorizer configures the role registry.
func (e *Engine) SetAuthorizer(a authorizer) { e.auth = a }

// SetFeeTreasury configures the address that receives fees on release.
func (e *Engine) SetFeeTreasury(addr common.Address) { e.treasury = addr }

// Vault returns the account holding locked funds.
func (e *Engine) Vault() common.Address { return e.vault }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
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

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
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

// Params returns the stored parameters, falling back to DefaultParams.
func (e *Engine) Params() (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, errNilState
	}
	var params Params
	ok, err := e.state.KVGet(paramsKey, &params)
	if err != nil {
		return Params{}, err
	}
	if !ok {
		return DefaultParams(), nil
	}
	return params, nil
}

// SetParams replaces the protocol parameters. Owner only.
func (e *Engine) SetParams(caller common.Address, params Params) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.auth != nil {
		if err := e.auth.Require(caller, access.RoleOwner); err != nil {
			return err
		}
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if err := e.state.KVPut(paramsKey, params.Clone()); err != nil {
		return err
	}
	e.logger.Info("escrow params updated",
		slog.Uint64("feeBps", uint64(params.FeeBps)),
		slog.Uint64("maxPending", params.MaxPendingPerSender),
		slog.Uint64("expireSeconds", params.ExpireDuration))
	return nil
}

// QuoteFee prices a prospective transfer without mutating state.
func (e *Engine) QuoteFee(token common.Address, amount *big.Int) (FeeQuote, error) {
	if err := e.ready(); err != nil {
		return FeeQuote{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return FeeQuote{}, ErrInvalidAmount
	}
	params, err := e.Params()
	if err != nil {
		return FeeQuote{}, err
	}
	info, err := e.bank.TokenInfo(token)
	if err != nil {
		return FeeQuote{}, err
	}
	quote, err := e.prices.Price(token, e.now())
	if err != nil {
		return FeeQuote{}, err
	}
	return ComputeFee(amount, info.Decimals, quote, params), nil
}

// Initiate locks amount plus the protocol fee from sender for receiver. For
// registered tokens the vault draws on the sender's allowance; the native
// asset is debited directly.
func (e *Engine) Initiate(sender, token, receiver common.Address, amount *big.Int) (uint64, error) {
	if err := e.validateInitiate(sender, receiver, amount); err != nil {
		return 0, err
	}
	return e.initiate(sender, token, receiver, amount)
}

func (e *Engine) validateInitiate(sender, receiver common.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if sender == (common.Address{}) {
		return ErrInvalidSender
	}
	if receiver == (common.Address{}) {
		return ErrInvalidReceiver
	}
	if receiver == sender {
		return ErrSelfTransfer
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (e *Engine) initiate(sender, token, receiver common.Address, amount *big.Int) (uint64, error) {
	params, err := e.Params()
	if err != nil {
		return 0, err
	}
	info, err := e.bank.TokenInfo(token)
	if err != nil {
		return 0, err
	}
	now := e.now()
	quote, err := e.prices.Price(token, now)
	if err != nil {
		return 0, err
	}
	fee := ComputeFee(amount, info.Decimals, quote, params)
	if fee.ValueUSD.Cmp(params.MinTransferUSD) < 0 {
		return 0, fmt.Errorf("%w: $%s below $%s", ErrBelowMinimum, formatUSD(fee.ValueUSD), formatUSD(params.MinTransferUSD))
	}
	outbox, err := e.OutboxIDs(sender)
	if err != nil {
		return 0, err
	}
	if uint64(len(outbox)) >= params.MaxPendingPerSender {
		return 0, fmt.Errorf("%w: %d pending", ErrOutboxFull, len(outbox))
	}
	if fee.FeeUSD.Sign() > 0 && fee.Fee.Sign() == 0 {
		return 0, ErrZeroFee
	}
	total := new(big.Int).Add(amount, fee.Fee)
	if token == bank.NativeToken {
		err = e.bank.Transfer(token, sender, e.vault, total)
	} else {
		err = e.bank.TransferFrom(e.vault, token, sender, e.vault, total)
	}
	if err != nil {
		return 0, err
	}
	id, err := e.nextID()
	if err != nil {
		return 0, err
	}
	transfer := Transfer{
		ID:          id,
		Sender:      sender,
		Receiver:    receiver,
		Token:       token,
		Amount:      new(big.Int).Set(amount),
		TotalAmount: total,
		CreatedAt:   now,
	}
	if err := e.state.KVPut(transferKey(id), newStoredTransfer(transfer)); err != nil {
		return 0, err
	}
	if err := e.appendID(outboxKey(sender), id); err != nil {
		return 0, err
	}
	if err := e.appendID(inboxKey(receiver), id); err != nil {
		return 0, err
	}
	if err := e.appendID(activeIDKey, id); err != nil {
		return 0, err
	}
	e.emit(events.TransferInitiated{
		ID:        id,
		Sender:    sender,
		Receiver:  receiver,
		Token:     token,
		Amount:    new(big.Int).Set(amount),
		Fee:       new(big.Int).Set(fee.Fee),
		CreatedAt: now,
	})
	return id, nil
}

// Confirm releases an active transfer: Amount goes to the receiver and the
// fee to the treasury. Only the sender may confirm.
func (e *Engine) Confirm(caller common.Address, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	transfer, err := e.loadActive(id)
	if err != nil {
		return err
	}
	if caller != transfer.Sender {
		return ErrNotSender
	}
	if e.treasury == (common.Address{}) {
		return errNilTreasury
	}
	if err := e.pay(transfer.Token, transfer.Receiver, transfer.Amount); err != nil {
		return err
	}
	if err := e.pay(transfer.Token, e.treasury, transfer.Fee()); err != nil {
		return err
	}
	if err := e.clear(transfer); err != nil {
		return err
	}
	if err := e.recordCompletion(transfer.Sender, e.now()); err != nil {
		return err
	}
	e.emitSettled(transfer, transfer.Amount, events.ActionReleased)
	return nil
}

// Cancel refunds TotalAmount to the sender. Only the sender may cancel.
func (e *Engine) Cancel(caller common.Address, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	transfer, err := e.loadActive(id)
	if err != nil {
		return err
	}
	if caller != transfer.Sender {
		return ErrNotSender
	}
	if err := e.refund(transfer); err != nil {
		return err
	}
	e.emitSettled(transfer, transfer.TotalAmount, events.ActionCancelled)
	return nil
}

// ForceExpireBatch refunds every listed transfer that is active and past its
// expiry. Ineligible ids are skipped and a failed refund is rolled back and
// reported without affecting the rest of the batch. Keeper or owner only.
func (e *Engine) ForceExpireBatch(caller common.Address, ids []uint64) ([]ExpireResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.auth != nil {
		if err := e.auth.Require(caller, access.RoleKeeper, access.RoleOwner); err != nil {
			return nil, err
		}
	}
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	now := e.now()
	results := make([]ExpireResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, e.expireOne(id, now, params.ExpireDuration))
	}
	return results, nil
}

func (e *Engine) expireOne(id uint64, now int64, expireAfter uint64) ExpireResult {
	result := ExpireResult{ID: id, Refunded: big.NewInt(0)}
	transfer, err := e.GetTransfer(id)
	if err != nil {
		result.Status = ExpireStatusFailed
		result.Reason = err.Error()
		return result
	}
	if !transfer.Active() {
		result.Status = ExpireStatusSkipped
		result.Reason = ReasonNotActive
		return result
	}
	if now <= transfer.CreatedAt+int64(expireAfter) {
		result.Status = ExpireStatusSkipped
		result.Reason = ReasonNotExpired
		return result
	}
	snap, canRevert := e.state.(snapshotter)
	mark := 0
	if canRevert {
		mark = snap.Snapshot()
	}
	if err := e.refund(transfer); err != nil {
		if canRevert {
			snap.RevertToSnapshot(mark)
		}
		e.logger.Warn("escrow expiry failed", slog.Uint64("id", id), slog.Any("error", err))
		result.Status = ExpireStatusFailed
		result.Reason = err.Error()
		return result
	}
	result.Status = ExpireStatusExpired
	result.Refunded = new(big.Int).Set(transfer.TotalAmount)
	e.emitSettled(transfer, transfer.TotalAmount, events.ActionExpired)
	return result
}

func (e *Engine) refund(transfer Transfer) error {
	if err := e.pay(transfer.Token, transfer.Sender, transfer.TotalAmount); err != nil {
		return err
	}
	return e.clear(transfer)
}

func (e *Engine) pay(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return e.bank.Transfer(token, e.vault, to, amount)
}

func (e *Engine) emitSettled(transfer Transfer, amount *big.Int, action events.SettlementAction) {
	e.emit(events.TransferSettled{
		ID:       transfer.ID,
		Sender:   transfer.Sender,
		Receiver: transfer.Receiver,
		Token:    transfer.Token,
		Amount:   new(big.Int).Set(amount),
		Action:   action,
	})
}

// GetTransfer returns the record for id. Settled or unknown ids yield a
// zeroed record rather than an error.
func (e *Engine) GetTransfer(id uint64) (Transfer, error) {
	if e == nil || e.state == nil {
		return Transfer{}, errNilState
	}
	var stored storedTransfer
	ok, err := e.state.KVGet(transferKey(id), &stored)
	if err != nil {
		return Transfer{}, err
	}
	if !ok {
		return emptyTransfer(), nil
	}
	return stored.toTransfer(), nil
}

func (e *Engine) loadActive(id uint64) (Transfer, error) {
	transfer, err := e.GetTransfer(id)
	if err != nil {
		return Transfer{}, err
	}
	if !transfer.Active() {
		return Transfer{}, fmt.Errorf("%w: %d", ErrNotActive, id)
	}
	return transfer, nil
}

func (e *Engine) clear(transfer Transfer) error {
	if err := e.state.KVDelete(transferKey(transfer.ID)); err != nil {
		return err
	}
	if err := e.removeID(outboxKey(transfer.Sender), transfer.ID); err != nil {
		return err
	}
	if err := e.removeID(inboxKey(transfer.Receiver), transfer.ID); err != nil {
		return err
	}
	return e.removeID(activeIDKey, transfer.ID)
}

func (e *Engine) nextID() (uint64, error) {
	var next uint64
	if _, err := e.state.KVGet(nextIDKey, &next); err != nil {
		return 0, err
	}
	if next == 0 {
		next = 1
	}
	if err := e.state.KVPut(nextIDKey, next+1); err != nil {
		return 0, err
	}
	return next, nil
}

func (e *Engine) loadIDs(key []byte) ([]uint64, error) {
	var ids []uint64
	if err := e.state.KVGetList(key, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (e *Engine) appendID(key []byte, id uint64) error {
	ids, err := e.loadIDs(key)
	if err != nil {
		return err
	}
	return e.state.KVPut(key, append(ids, id))
}

func (e *Engine) removeID(key []byte, id uint64) error {
	ids, err := e.loadIDs(key)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, existing := range ids {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) == 0 {
		return e.state.KVDelete(key)
	}
	return e.state.KVPut(key, filtered)
}

// OutboxIDs returns the active transfers originated by account, oldest first.
func (e *Engine) OutboxIDs(account common.Address) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadIDs(outboxKey(account))
}

// InboxIDs returns the active transfers due to account, oldest first.
func (e *Engine) InboxIDs(account common.Address) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadIDs(inboxKey(account))
}

// ActiveIDs returns up to limit active transfer ids, oldest first. A
// non-positive limit returns all of them.
func (e *Engine) ActiveIDs(limit int) ([]uint64, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.loadIDs(activeIDKey)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ExpiredIDs returns up to limit active ids that ForceExpireBatch would
// expire at now.
func (e *Engine) ExpiredIDs(now int64, limit int) ([]uint64, error) {
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	ids, err := e.ActiveIDs(0)
	if err != nil {
		return nil, err
	}
	expired := make([]uint64, 0)
	for _, id := range ids {
		transfer, err := e.GetTransfer(id)
		if err != nil {
			return nil, err
		}
		if transfer.Active() && now > transfer.CreatedAt+int64(params.ExpireDuration) {
			expired = append(expired, id)
			if limit > 0 && len(expired) == limit {
				break
			}
		}
	}
	return expired, nil
}

func (e *Engine) recordCompletion(account common.Address, now int64) error {
	day := Day(now)
	var dayCount, total uint64
	if _, err := e.state.KVGet(dayCountKey(account, day), &dayCount); err != nil {
		return err
	}
	if _, err := e.state.KVGet(totalCountKey(account), &total); err != nil {
		return err
	}
	if err := e.state.KVPut(dayCountKey(account, day), dayCount+1); err != nil {
		return err
	}
	return e.state.KVPut(totalCountKey(account), total+1)
}

// TransferCount returns how many transfers account released on day.
func (e *Engine) TransferCount(account common.Address, day uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	var count uint64
	if _, err := e.state.KVGet(dayCountKey(account, day), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// TotalTransferCount returns how many transfers account has ever released.
func (e *Engine) TotalTransferCount(account common.Address) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	var count uint64
	if _, err := e.state.KVGet(totalCountKey(account), &count); err != nil {
		return 0, err
	}
	return count, nil
}

func formatUSD(v *big.Int) string {
	if v == nil {
		return "0.00"
	}
	return decimal.NewFromBigInt(v, -oracle.USDDecimals).Truncate(2).StringFixed(2)
}
