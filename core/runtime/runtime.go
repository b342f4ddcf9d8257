// Package runtime applies protocol commands one at a time. Each command runs
// against a journaled state: a failure discards its writes and events, a
// success commits both.
package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"securepay/config"
	"securepay/core/events"
	"securepay/core/state"
	"securepay/crypto"
	"securepay/native/access"
	"securepay/native/bank"
	"securepay/native/escrow"
	"securepay/native/oracle"
	"securepay/native/rewards"
	"securepay/native/timelock"
	"securepay/native/treasury"
	"securepay/observability/logging"
	"securepay/observability/metrics"
	"securepay/storage"
)

// Runtime owns the engines and serialises every command that touches them.
type Runtime struct {
	mu      sync.Mutex
	state   *state.Manager
	buffer  *events.Buffer
	sink    events.Emitter
	logger  *slog.Logger
	metrics *metrics.ProtocolMetrics
	nowFn   func() int64

	verifier crypto.Verifier
	domainID uint64

	access   *access.Registry
	bank     *bank.Ledger
	oracle   *oracle.Adapter
	escrow   *escrow.Engine
	treasury *treasury.Engine
	router   *treasury.OracleRouter
	rewards  *rewards.Engine
	timelock *timelock.Engine
}

// Option customises New.
type Option func(*Runtime)

// WithLogger sets the parent logger. Engines log through component children.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEmitter sets the sink receiving events of committed commands. Sinks run
// under the runtime lock and must not call back into the runtime.
func WithEmitter(sink events.Emitter) Option {
	return func(r *Runtime) { r.sink = sink }
}

// WithNowFunc overrides the clock shared by every engine.
func WithNowFunc(now func() int64) Option {
	return func(r *Runtime) {
		if now != nil {
			r.nowFn = now
		}
	}
}

// WithVerifier overrides the signature verifier used for permits and claims.
func WithVerifier(v crypto.Verifier) Option {
	return func(r *Runtime) {
		if v != nil {
			r.verifier = v
		}
	}
}

// WithMetrics records command outcomes into m.
func WithMetrics(m *metrics.ProtocolMetrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// New wires the engines over db. A database without an owner is initialised
// from cfg in a single committed genesis command.
func New(db storage.Database, cfg *config.Config, opts ...Option) (*Runtime, error) {
	if db == nil {
		return nil, fmt.Errorf("runtime: database required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("runtime: config required")
	}
	r := &Runtime{
		state:    state.NewManager(db),
		buffer:   &events.Buffer{},
		sink:     events.NoopEmitter{},
		logger:   slog.Default(),
		nowFn:    func() int64 { return time.Now().Unix() },
		verifier: crypto.EthVerifier{},
		domainID: cfg.DomainID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.sink == nil {
		r.sink = events.NoopEmitter{}
	}
	r.wire(cfg)

	if _, err := r.access.Owner(); errors.Is(err, access.ErrNotBootstrapped) {
		if err := r.apply("Genesis", func() error { return r.genesis(cfg) }); err != nil {
			return nil, fmt.Errorf("runtime: genesis: %w", err)
		}
	} else if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) wire(cfg *config.Config) {
	now := r.now
	r.access = access.NewRegistry(r.state)
	r.bank = bank.NewLedger(r.state, r.access, r.verifier, r.domainID)

	r.oracle = oracle.NewAdapter(r.state, r.access)
	r.oracle.SetLogger(logging.Component(r.logger, "oracle"))

	r.router = treasury.NewOracleRouter(r.bank, r.oracle, bank.ModuleAccount("liquidity"), cfg.Treasury.SlippageBps)
	r.router.SetNowFunc(now)

	r.treasury = treasury.NewEngine()
	r.treasury.SetState(r.state)
	r.treasury.SetBank(r.bank)
	r.treasury.SetPriceSource(r.oracle)
	r.treasury.SetRoles(r.access)
	r.treasury.SetRouter(r.router)
	r.treasury.SetEmitter(r.buffer)
	r.treasury.SetLogger(logging.Component(r.logger, "treasury"))
	r.treasury.SetNowFunc(now)

	r.escrow = escrow.NewEngine()
	r.escrow.SetState(r.state)
	r.escrow.SetBank(r.bank)
	r.escrow.SetPriceSource(r.oracle)
	r.escrow.SetAuthorizer(r.access)
	r.escrow.SetFeeTreasury(r.treasury.Account())
	r.escrow.SetEmitter(r.buffer)
	r.escrow.SetLogger(logging.Component(r.logger, "escrow"))
	r.escrow.SetNowFunc(now)

	r.rewards = rewards.NewEngine(r.domainID)
	r.rewards.SetState(r.state)
	r.rewards.SetBank(r.bank)
	r.rewards.SetCounters(r.escrow)
	r.rewards.SetAuthorizer(r.access)
	r.rewards.SetVerifier(r.verifier)
	r.rewards.SetEmitter(r.buffer)
	r.rewards.SetLogger(logging.Component(r.logger, "rewards"))
	r.rewards.SetNowFunc(now)

	r.timelock = timelock.NewEngine()
	r.timelock.SetState(r.state)
	r.timelock.SetAuthorizer(r.access)
	r.timelock.SetEmitter(r.buffer)
	r.timelock.SetLogger(logging.Component(r.logger, "timelock"))
	r.timelock.SetNowFunc(now)
	r.timelock.SetPolicy(timelock.Policy{DelaySeconds: cfg.Timelock.DelaySeconds, GraceSeconds: cfg.Timelock.GraceSeconds})
	r.registerTimelockActions()
}

func (r *Runtime) now() int64 {
	return r.nowFn()
}

// Now returns the runtime clock in unix seconds.
func (r *Runtime) Now() int64 {
	return r.now()
}

// apply runs fn as one atomic command. On error every write and buffered event
// is dropped; on success the journal is committed and events are released to
// the sink in emission order.
func (r *Runtime) apply(command string, fn func() error) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ObserveCommand(command, err, time.Since(started))
		}
	}()

	if err = fn(); err != nil {
		r.rollback()
		r.logger.Debug("command rejected", slog.String("command", command), slog.Any("error", err))
		return err
	}
	if err = r.state.Commit(); err != nil {
		r.rollback()
		r.logger.Error("command commit failed", slog.String("command", command), slog.Any("error", err))
		return err
	}
	flushed := r.buffer.Flush(r.sink)
	r.logger.Debug("command applied", slog.String("command", command), slog.Int("events", len(flushed)))
	return nil
}

func (r *Runtime) rollback() {
	r.state.Discard()
	r.buffer.Reset()
}

// view runs a read-only query under the lock. Any write it makes is dropped.
func (r *Runtime) view(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := fn()
	if r.state.Dirty() > 0 {
		r.rollback()
	}
	return err
}

// Owner returns the current owner.
func (r *Runtime) Owner() (common.Address, error) {
	var owner common.Address
	err := r.view(func() error {
		var err error
		owner, err = r.access.Owner()
		return err
	})
	return owner, err
}

// DomainID returns the signing domain of permits and reward claims.
func (r *Runtime) DomainID() uint64 { return r.domainID }

// EscrowVault returns the account holding locked transfers.
func (r *Runtime) EscrowVault() common.Address { return r.escrow.Vault() }

// TreasuryAccount returns the account accumulating fees.
func (r *Runtime) TreasuryAccount() common.Address { return r.treasury.Account() }

// RewardPool returns the account paying rewards. It is also the contract
// identity bound into claim digests.
func (r *Runtime) RewardPool() common.Address { return r.rewards.Pool() }

// LiquidityAccount returns the account the reference router settles against.
func (r *Runtime) LiquidityAccount() common.Address { return r.router.Liquidity() }
