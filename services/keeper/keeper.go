// Package keeper runs the periodic maintenance loop: it expires stale secured
// transfers and triggers treasury buybacks once the upside crosses the
// configured threshold.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"securepay/core/events"
	"securepay/native/bank"
	"securepay/native/escrow"
	"securepay/native/treasury"
	"securepay/observability/metrics"
	telemetry "securepay/observability/otel"
)

// actionReconciled marks journal rows whose transfer was already settled
// on-chain while the journal missed the event.
const actionReconciled events.SettlementAction = "reconciled"

// Ledger is the slice of the runtime the keeper drives.
type Ledger interface {
	Now() int64
	ExpiredIDs(limit int) ([]uint64, error)
	ForceExpireBatch(caller common.Address, ids []uint64) ([]escrow.ExpireResult, error)
	CheckUpside(tokens []common.Address, includeNative bool) (treasury.Upside, error)
	ExecuteBuybackAndBurn(caller common.Address, tokens []common.Address, minOuts []*big.Int, minFromNative *big.Int, includeNative bool) ([]treasury.BuybackResult, error)
	TreasuryAccount() common.Address
	BalanceOf(token, account common.Address) (*big.Int, error)
	SwapPath(token common.Address) ([]common.Address, error)
	QuoteSwap(path []common.Address, amountIn *big.Int) (*big.Int, error)
}

// Report summarises one tick.
type Report struct {
	RunID    string
	Expired  int
	Skipped  int
	Failed   int
	Upside   treasury.Upside
	Buybacks []treasury.BuybackResult
}

// Manager orchestrates periodic expiry sweeps and buybacks.
type Manager struct {
	ledger   Ledger
	journal  *Journal
	keeper   common.Address
	cfg      Config
	tokens   []common.Address
	logger   *slog.Logger
	metrics  *metrics.KeeperMetrics
	tracer   trace.Tracer
	clock    func() time.Time
	once     sync.Once
	interval time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithJournal sources pending transfers from the journal instead of node
// state.
func WithJournal(j *Journal) Option {
	return func(m *Manager) {
		m.journal = j
	}
}

// WithMetrics records tick outcomes on km.
func WithMetrics(km *metrics.KeeperMetrics) Option {
	return func(m *Manager) {
		m.metrics = km
	}
}

// WithClock overrides the wall clock used for tick timing.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// New constructs a manager instance.
func New(ledger Ledger, cfg Config, opts ...Option) (*Manager, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	applyDefaults(&cfg)
	if cfg.Expiry.BatchSize > cfg.Expiry.MaxBatch {
		return nil, fmt.Errorf("keeper: batch size %d exceeds max per tick %d", cfg.Expiry.BatchSize, cfg.Expiry.MaxBatch)
	}
	if cfg.Buyback.ToleranceBps >= 10_000 {
		return nil, fmt.Errorf("keeper: tolerance %d bps must be below 10000", cfg.Buyback.ToleranceBps)
	}
	keeperAddr, err := cfg.KeeperAddress()
	if err != nil {
		return nil, err
	}
	tokens, err := cfg.BuybackTokens()
	if err != nil {
		return nil, err
	}
	mgr := &Manager{
		ledger:   ledger,
		keeper:   keeperAddr,
		cfg:      cfg,
		tokens:   tokens,
		logger:   slog.Default(),
		tracer:   telemetry.Tracer(),
		clock:    time.Now,
		interval: cfg.Interval.Duration,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// Run blocks, ticking until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Info("keeper started",
			slog.String("keeper", m.keeper.Hex()),
			slog.Duration("interval", m.interval),
			slog.Bool("journal", m.journal != nil))
	})
	for {
		if _, err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Error("keeper tick failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one expiry sweep followed by one upside check.
func (m *Manager) Tick(ctx context.Context) (Report, error) {
	if m == nil {
		return Report{}, fmt.Errorf("manager not configured")
	}
	report := Report{RunID: uuid.NewString()}
	started := m.clock()
	ctx, span := m.tracer.Start(ctx, "keeper.tick", trace.WithAttributes(attribute.String("run_id", report.RunID)))
	defer span.End()
	logger := m.logger.With(slog.String("run_id", report.RunID))

	err := m.expire(ctx, logger, &report)
	if err == nil {
		err = m.buyback(ctx, logger, &report)
	}
	finished := m.clock()
	m.metrics.ObserveTick(err, started, finished)
	span.SetAttributes(
		attribute.Int("expired", report.Expired),
		attribute.Int("skipped", report.Skipped),
		attribute.Int("failed", report.Failed),
		attribute.Int("buybacks", len(report.Buybacks)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	logger.Info("keeper tick complete",
		slog.Int("expired", report.Expired),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int("buybacks", len(report.Buybacks)),
		slog.Duration("elapsed", finished.Sub(started)))
	return report, nil
}

// pendingIDs lists transfers due for expiry. Journal rows come first; node
// state fills the rest of the batch so transfers opened before the journal
// was attached, or while it was down, still expire.
func (m *Manager) pendingIDs(ctx context.Context) ([]uint64, error) {
	limit := m.cfg.Expiry.MaxBatch
	onChain, err := m.ledger.ExpiredIDs(limit)
	if err != nil {
		return nil, err
	}
	if m.journal == nil {
		return onChain, nil
	}
	cutoff := m.ledger.Now() - int64(m.cfg.Expiry.TTL.Seconds())
	journaled, err := m.journal.Pending(ctx, cutoff, limit)
	if err != nil {
		return nil, err
	}
	seen := make(map[uint64]struct{}, len(journaled)+len(onChain))
	ids := make([]uint64, 0, len(journaled)+len(onChain))
	for _, group := range [][]uint64{journaled, onChain} {
		for _, id := range group {
			if len(ids) == limit {
				return ids, nil
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Manager) expire(ctx context.Context, logger *slog.Logger, report *Report) error {
	ids, err := m.pendingIDs(ctx)
	if err != nil {
		return fmt.Errorf("list pending transfers: %w", err)
	}
	size := m.cfg.Expiry.BatchSize
	for start := 0; start < len(ids); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		results, err := m.ledger.ForceExpireBatch(m.keeper, ids[start:end])
		if err != nil {
			return fmt.Errorf("force expire batch: %w", err)
		}
		for _, res := range results {
			m.metrics.ObserveExpireResult(string(res.Status))
			switch res.Status {
			case escrow.ExpireStatusExpired:
				report.Expired++
			case escrow.ExpireStatusSkipped:
				report.Skipped++
				m.reconcile(ctx, logger, res)
			default:
				report.Failed++
				logger.Warn("transfer expiry failed", slog.Uint64("id", res.ID), slog.String("reason", res.Reason))
			}
		}
	}
	return nil
}

func (m *Manager) reconcile(ctx context.Context, logger *slog.Logger, res escrow.ExpireResult) {
	if m.journal == nil || res.Reason != escrow.ReasonNotActive {
		return
	}
	if err := m.journal.MarkSettled(ctx, res.ID, actionReconciled, nil); err != nil {
		logger.Warn("journal reconcile failed", slog.Uint64("id", res.ID), slog.Any("error", err))
	}
}

func (m *Manager) buyback(ctx context.Context, logger *slog.Logger, report *Report) error {
	if len(m.tokens) == 0 && !m.cfg.Buyback.IncludeNative {
		return nil
	}
	upside, err := m.ledger.CheckUpside(m.tokens, m.cfg.Buyback.IncludeNative)
	if err != nil {
		return fmt.Errorf("check upside: %w", err)
	}
	report.Upside = upside
	if upside.TotalUSD != nil {
		m.metrics.SetUpsideUSD(decimal.NewFromBigInt(upside.TotalUSD, -18).InexactFloat64())
	}
	if !m.cfg.Buyback.Enabled || !upside.Triggerable {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	minOuts := make([]*big.Int, len(m.tokens))
	for i, token := range m.tokens {
		minOuts[i] = m.minOut(logger, token)
	}
	minNative := big.NewInt(0)
	if m.cfg.Buyback.IncludeNative {
		minNative = m.minOut(logger, bank.NativeToken)
	}
	results, err := m.ledger.ExecuteBuybackAndBurn(m.keeper, m.tokens, minOuts, minNative, m.cfg.Buyback.IncludeNative)
	if err != nil {
		if errors.Is(err, treasury.ErrBuybackDisabled) {
			logger.Warn("buyback disabled on-chain")
			return nil
		}
		return fmt.Errorf("execute buyback: %w", err)
	}
	report.Buybacks = results
	for _, res := range results {
		if !res.Success {
			logger.Warn("buyback leg failed", slog.String("token", res.Token.Hex()), slog.String("reason", res.Reason))
		}
	}
	return nil
}

// minOut quotes the treasury balance of token along its swap path and
// discounts it by the configured tolerance. Any quoting failure yields zero;
// the on-chain leg then reports its own failure reason.
func (m *Manager) minOut(logger *slog.Logger, token common.Address) *big.Int {
	zero := big.NewInt(0)
	balance, err := m.ledger.BalanceOf(token, m.ledger.TreasuryAccount())
	if err != nil || balance.Sign() == 0 {
		return zero
	}
	path, err := m.ledger.SwapPath(token)
	if err != nil {
		logger.Debug("swap path unavailable", slog.String("token", token.Hex()), slog.Any("error", err))
		return zero
	}
	quoted, err := m.ledger.QuoteSwap(path, balance)
	if err != nil {
		logger.Debug("swap quote unavailable", slog.String("token", token.Hex()), slog.Any("error", err))
		return zero
	}
	keep := big.NewInt(int64(10_000 - m.cfg.Buyback.ToleranceBps))
	out := new(big.Int).Mul(quoted, keep)
	return out.Quo(out, big.NewInt(10_000))
}
