// Package rewards pays daily check-in streaks, transfer-count tasks and
// signature-authorised grants out of a funded pool.
package rewards

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"securepay/core/events"
	"securepay/crypto"
	"securepay/native/access"
	"securepay/native/bank"
	"securepay/native/escrow"
	"securepay/observability/logging"
)

// MaxStreakMultiplier caps the check-in payout at seven units.
const MaxStreakMultiplier = 7

var (
	ErrAlreadyCheckedIn      = errors.New("rewards: already checked in today")
	ErrInsufficientPool      = errors.New("rewards: insufficient reward pool")
	ErrTaskNotFound          = errors.New("rewards: task not found")
	ErrInvalidTask           = errors.New("rewards: invalid task")
	ErrTaskIncomplete        = errors.New("rewards: task not completed")
	ErrAlreadyClaimed        = errors.New("rewards: task already claimed today")
	ErrNonceUsed             = errors.New("rewards: nonce already used")
	ErrUnauthorizedSigner    = errors.New("rewards: signer not authorised")
	ErrInvalidAmount         = errors.New("rewards: amount must be positive")
	ErrVerifierNotConfigured = errors.New("rewards: verifier not configured")

	errNilState    = errors.New("rewards engine: state not configured")
	errNilBank     = errors.New("rewards engine: bank not configured")
	errNilCounters = errors.New("rewards engine: transfer counters not configured")
)

type engineState interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVHas(key []byte) (bool, error)
	KVDelete(key []byte) error
	KVGetList(key []byte, out interface{}) error
}

type ledger interface {
	BalanceOf(token, account common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
}

// TransferCounter is the read-only view of completed transfers.
type TransferCounter interface {
	TransferCount(account common.Address, day uint64) (uint64, error)
	TotalTransferCount(account common.Address) (uint64, error)
}

type authorizer interface {
	Require(addr common.Address, roles ...access.Role) error
}

var (
	configKey   = []byte("rewards/config")
	taskNextKey = []byte("rewards/task-next")
	taskListKey = []byte("rewards/tasks")
)

func checkInKey(account common.Address) []byte {
	return []byte(fmt.Sprintf("rewards/checkin/%x", account.Bytes()))
}

func taskKey(id uint64) []byte {
	return []byte(fmt.Sprintf("rewards/task/%020d", id))
}

func nonceKey(account common.Address, nonce [32]byte) []byte {
	return []byte(fmt.Sprintf("rewards/nonce/%x/%s", account.Bytes(), hex.EncodeToString(nonce[:])))
}

// Task claims live apart from grant nonces so an issuer-chosen nonce can never
// mark a task as claimed, nor the reverse.
func taskClaimKey(account common.Address, id, day uint64) []byte {
	return []byte(fmt.Sprintf("rewards/task-claim/%x/%020d/%020d", account.Bytes(), id, day))
}

// Engine implements the rewards state machine.
type Engine struct {
	state    engineState
	bank     ledger
	counters TransferCounter
	auth     authorizer
	verifier crypto.Verifier
	emitter  events.Emitter
	logger   *slog.Logger
	pool     common.Address
	domainID uint64
	nowFn    func() int64
}

// NewEngine creates a rewards engine paying from the rewards module account.
func NewEngine(domainID uint64) *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
		pool:     bank.ModuleAccount("rewards"),
		domainID: domainID,
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank configures the asset-movement collaborator.
func (e *Engine) SetBank(l ledger) { e.bank = l }

// SetCounters configures the transfer counter view.
func (e *Engine) SetCounters(c TransferCounter) { e.counters = c }

// SetAuthorizer configures the role registry.
func (e *Engine) SetAuthorizer(a authorizer) { e.auth = a }

// SetVerifier configures signature recovery for ClaimReward.
func (e *Engine) SetVerifier(v crypto.Verifier) { e.verifier = v }

// Pool returns the account rewards are paid from. It doubles as the contract
// identity bound into claim digests.
func (e *Engine) Pool() common.Address { return e.pool }

// DomainID returns the domain bound into claim digests.
func (e *Engine) DomainID() uint64 { return e.domainID }

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
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.bank == nil {
		return errNilBank
	}
	return nil
}

func (e *Engine) requireOwner(caller common.Address) error {
	if e.auth == nil {
		return nil
	}
	return e.auth.Require(caller, access.RoleOwner)
}

// Config returns the stored rewards configuration.
func (e *Engine) Config() (Config, error) {
	if e == nil || e.state == nil {
		return Config{}, errNilState
	}
	var cfg Config
	if _, err := e.state.KVGet(configKey, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.CheckInUnit == nil {
		cfg.CheckInUnit = big.NewInt(0)
	}
	return cfg, nil
}

func (e *Engine) updateConfig(caller common.Address, mutate func(*Config)) error {
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
	mutate(&cfg)
	return e.state.KVPut(configKey, cfg)
}

// SetIssuer configures the trusted claim issuer. Owner only.
func (e *Engine) SetIssuer(caller, issuer common.Address) error {
	return e.updateConfig(caller, func(cfg *Config) { cfg.Issuer = issuer })
}

// SetRewardToken configures the asset rewards are paid in. Owner only.
func (e *Engine) SetRewardToken(caller, token common.Address) error {
	return e.updateConfig(caller, func(cfg *Config) { cfg.Token = token })
}

// SetCheckInUnit configures the payout of a one-day streak. Owner only.
func (e *Engine) SetCheckInUnit(caller common.Address, unit *big.Int) error {
	if unit == nil || unit.Sign() < 0 {
		return ErrInvalidAmount
	}
	return e.updateConfig(caller, func(cfg *Config) { cfg.CheckInUnit = new(big.Int).Set(unit) })
}

// FundPool moves amount of the reward token from funder into the pool.
func (e *Engine) FundPool(funder common.Address, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	cfg, err := e.Config()
	if err != nil {
		return err
	}
	return e.bank.Transfer(cfg.Token, funder, e.pool, amount)
}

// PoolBalance returns what the pool can still pay out.
func (e *Engine) PoolBalance() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	return e.bank.BalanceOf(cfg.Token, e.pool)
}

func (e *Engine) payout(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := e.bank.Transfer(token, e.pool, to, amount); err != nil {
		if errors.Is(err, bank.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", ErrInsufficientPool, err)
		}
		return err
	}
	return nil
}

// GetCheckIn returns the streak state of account.
func (e *Engine) GetCheckIn(account common.Address) (CheckIn, bool, error) {
	if e == nil || e.state == nil {
		return CheckIn{}, false, errNilState
	}
	var stored storedCheckIn
	ok, err := e.state.KVGet(checkInKey(account), &stored)
	if err != nil {
		return CheckIn{}, false, err
	}
	return CheckIn{Streak: stored.Streak, LastCheckInTime: int64(stored.LastCheckInTime)}, ok, nil
}

// CheckIn records today's check-in for account. Consecutive days extend the
// streak, any gap resets it to one. The payout is min(streak, 7) units.
func (e *Engine) CheckIn(account common.Address) (CheckIn, *big.Int, error) {
	if err := e.ready(); err != nil {
		return CheckIn{}, nil, err
	}
	now := e.now()
	day := escrow.Day(now)
	current, seen, err := e.GetCheckIn(account)
	if err != nil {
		return CheckIn{}, nil, err
	}
	next := CheckIn{Streak: 1, LastCheckInTime: now}
	if seen {
		lastDay := escrow.Day(current.LastCheckInTime)
		if day <= lastDay {
			return CheckIn{}, nil, ErrAlreadyCheckedIn
		}
		if day == lastDay+1 {
			next.Streak = current.Streak + 1
		}
	}
	cfg, err := e.Config()
	if err != nil {
		return CheckIn{}, nil, err
	}
	multiplier := next.Streak
	if multiplier > MaxStreakMultiplier {
		multiplier = MaxStreakMultiplier
	}
	reward := new(big.Int).Mul(cfg.CheckInUnit, new(big.Int).SetUint64(multiplier))
	if err := e.payout(cfg.Token, account, reward); err != nil {
		return CheckIn{}, nil, err
	}
	if err := e.state.KVPut(checkInKey(account), storedCheckIn{Streak: next.Streak, LastCheckInTime: uint64(now)}); err != nil {
		return CheckIn{}, nil, err
	}
	e.emit(events.CheckedIn{Account: account, Streak: next.Streak, Reward: new(big.Int).Set(reward), Day: day})
	return next, reward, nil
}

// AddTask registers a task. Owner only.
func (e *Engine) AddTask(caller common.Address, targetCount uint64, reward *big.Int, taskType TaskType) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return 0, err
	}
	if targetCount == 0 || reward == nil || reward.Sign() <= 0 || !taskType.Valid() {
		return 0, ErrInvalidTask
	}
	var next uint64
	if _, err := e.state.KVGet(taskNextKey, &next); err != nil {
		return 0, err
	}
	if next == 0 {
		next = 1
	}
	task := Task{ID: next, TargetCount: targetCount, RewardAmount: new(big.Int).Set(reward), Type: taskType}
	if err := e.state.KVPut(taskKey(task.ID), task); err != nil {
		return 0, err
	}
	if err := e.state.KVPut(taskNextKey, next+1); err != nil {
		return 0, err
	}
	var ids []uint64
	if err := e.state.KVGetList(taskListKey, &ids); err != nil {
		return 0, err
	}
	if err := e.state.KVPut(taskListKey, append(ids, task.ID)); err != nil {
		return 0, err
	}
	e.emit(events.TaskAdded{TaskID: task.ID, TargetCount: targetCount, RewardAmount: new(big.Int).Set(reward), TaskType: taskType.String()})
	return task.ID, nil
}

// RemoveTask deletes a task. Owner only.
func (e *Engine) RemoveTask(caller common.Address, id uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if _, err := e.Task(id); err != nil {
		return err
	}
	if err := e.state.KVDelete(taskKey(id)); err != nil {
		return err
	}
	var ids []uint64
	if err := e.state.KVGetList(taskListKey, &ids); err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	if err := e.state.KVPut(taskListKey, kept); err != nil {
		return err
	}
	e.emit(events.TaskRemoved{TaskID: id})
	return nil
}

// Task returns the task registered under id.
func (e *Engine) Task(id uint64) (Task, error) {
	if e == nil || e.state == nil {
		return Task{}, errNilState
	}
	var task Task
	ok, err := e.state.KVGet(taskKey(id), &task)
	if err != nil {
		return Task{}, err
	}
	if !ok {
		return Task{}, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	return task, nil
}

// Tasks returns every registered task in creation order.
func (e *Engine) Tasks() ([]Task, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var ids []uint64
	if err := e.state.KVGetList(taskListKey, &ids); err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(ids))
	for _, id := range ids {
		task, err := e.Task(id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// GetTaskProgress reads the escrow counters for account: today's bucket for
// daily tasks, the all-time count for cumulative ones.
func (e *Engine) GetTaskProgress(account common.Address, id uint64) (Progress, error) {
	if e.counters == nil {
		return Progress{}, errNilCounters
	}
	task, err := e.Task(id)
	if err != nil {
		return Progress{}, err
	}
	var actual uint64
	switch task.Type {
	case TaskDaily:
		actual, err = e.counters.TransferCount(account, escrow.Day(e.now()))
	case TaskCumulative:
		actual, err = e.counters.TotalTransferCount(account)
	default:
		err = ErrInvalidTask
	}
	if err != nil {
		return Progress{}, err
	}
	return Progress{Actual: actual, Target: task.TargetCount, Completed: actual >= task.TargetCount}, nil
}

// ClaimTaskReward pays a completed task once per day.
func (e *Engine) ClaimTaskReward(account common.Address, id uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	progress, err := e.GetTaskProgress(account, id)
	if err != nil {
		return nil, err
	}
	if !progress.Completed {
		return nil, fmt.Errorf("%w: %d/%d", ErrTaskIncomplete, progress.Actual, progress.Target)
	}
	day := escrow.Day(e.now())
	claimed, err := e.IsTaskClaimed(account, id, day)
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, ErrAlreadyClaimed
	}
	task, err := e.Task(id)
	if err != nil {
		return nil, err
	}
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	if err := e.payout(cfg.Token, account, task.RewardAmount); err != nil {
		return nil, err
	}
	if err := e.state.KVPut(taskClaimKey(account, id, day), true); err != nil {
		return nil, err
	}
	e.emit(events.TaskRewardClaimed{Account: account, TaskID: id, Reward: new(big.Int).Set(task.RewardAmount), Day: day})
	return new(big.Int).Set(task.RewardAmount), nil
}

// ClaimDigest returns the digest account's grant must be signed over.
func (e *Engine) ClaimDigest(account common.Address, amount *big.Int, nonce [32]byte) ([32]byte, error) {
	return ClaimDigest(account, amount, nonce, e.domainID, e.pool)
}

// ClaimReward pays a signed grant. The signature must recover to the trusted
// issuer or to account itself, and each nonce pays once.
func (e *Engine) ClaimReward(account common.Address, amount *big.Int, nonce [32]byte, sig []byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if e.verifier == nil {
		return ErrVerifierNotConfigured
	}
	digest, err := e.ClaimDigest(account, amount, nonce)
	if err != nil {
		return err
	}
	signer, err := e.verifier.Recover(digest, sig)
	if err != nil {
		return err
	}
	cfg, err := e.Config()
	if err != nil {
		return err
	}
	issuerSigned := cfg.Issuer != (common.Address{}) && signer == cfg.Issuer
	if !issuerSigned && signer != account {
		return fmt.Errorf("%w: %s", ErrUnauthorizedSigner, signer.Hex())
	}
	used, err := e.IsNonceUsed(account, nonce)
	if err != nil {
		return err
	}
	if used {
		return ErrNonceUsed
	}
	if err := e.payout(cfg.Token, account, amount); err != nil {
		return err
	}
	if err := e.consumeNonce(account, nonce); err != nil {
		return err
	}
	if !issuerSigned {
		e.logger.Warn("rewards self-signed claim accepted",
			slog.String("account", account.Hex()),
			slog.String("amount", amount.String()),
			logging.MaskField("signature", "0x"+hex.EncodeToString(sig)))
	}
	e.emit(events.RewardClaimed{Account: account, Amount: new(big.Int).Set(amount), Nonce: nonce, Signer: signer, SelfSigned: !issuerSigned})
	return nil
}

// IsNonceUsed reports whether account already consumed nonce.
func (e *Engine) IsNonceUsed(account common.Address, nonce [32]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.KVHas(nonceKey(account, nonce))
}

// IsTaskClaimed reports whether account already claimed task id on day.
func (e *Engine) IsTaskClaimed(account common.Address, id, day uint64) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.KVHas(taskClaimKey(account, id, day))
}

func (e *Engine) consumeNonce(account common.Address, nonce [32]byte) error {
	return e.state.KVPut(nonceKey(account, nonce), true)
}
