package keeper

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"securepay/core/events"
	"securepay/core/runtime/runtimetest"
	"securepay/observability/metrics"
)

const week = 7 * 86_400

func testConfig() Config {
	cfg := Config{
		DatabasePath: "unused",
		Keeper:       runtimetest.Keeper.Hex(),
		Interval:     Duration{time.Second},
		Expiry: ExpiryConfig{
			TTL:       Duration{week * time.Second},
			BatchSize: 1,
			MaxBatch:  10,
		},
	}
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTickExpiresStaleTransfersFromJournal(t *testing.T) {
	journal := openTestJournal(t)
	f := runtimetest.New(t, journal)
	rt := f.Runtime
	f.Fund(t, runtimetest.USDC, runtimetest.Alice, big.NewInt(1_000_000_000))

	stale, err := rt.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(10_000_000))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	released, err := rt.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(10_000_000))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := rt.Confirm(runtimetest.Alice, released); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	f.Advance(week + 1)
	f.PublishAll(t)
	fresh, err := rt.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(10_000_000))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	km := metrics.NewKeeperMetrics()
	km.MustRegister(prometheus.NewRegistry())
	mgr, err := New(rt, testConfig(), WithJournal(journal), WithLogger(quietLogger()), WithMetrics(km))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	report, err := mgr.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.RunID == "" {
		t.Fatalf("expected run id")
	}
	if report.Expired != 1 || report.Skipped != 0 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	ctx := context.Background()
	rec, err := journal.Transfer(ctx, stale)
	if err != nil {
		t.Fatalf("journal transfer: %v", err)
	}
	if rec.SettledAction != string(events.ActionExpired) {
		t.Fatalf("stale transfer action = %q", rec.SettledAction)
	}
	pending, err := journal.Pending(ctx, f.Now(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != fresh {
		t.Fatalf("pending = %v, want [%d]", pending, fresh)
	}
	// Released and fresh transfers stay spent; the stale one is refunded in full.
	want := big.NewInt(1_000_000_000 - 2*10_010_000)
	if got := f.Balance(t, runtimetest.USDC, runtimetest.Alice); got.Cmp(want) != 0 {
		t.Fatalf("alice balance = %s, want %s", got, want)
	}
}

func TestTickReconcilesMissedSettlements(t *testing.T) {
	journal := openTestJournal(t)
	f := runtimetest.New(t)
	rt := f.Runtime
	f.Fund(t, runtimetest.USDC, runtimetest.Alice, big.NewInt(1_000_000_000))
	id, err := rt.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(10_000_000))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	// The journal saw the initiation but not the release.
	journal.Emit(events.TransferInitiated{ID: id, Sender: runtimetest.Alice, CreatedAt: f.Now()})
	if err := rt.Confirm(runtimetest.Alice, id); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	f.Advance(week + 1)

	mgr, err := New(rt, testConfig(), WithJournal(journal), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	report, err := mgr.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Skipped != 1 {
		t.Fatalf("expected one skipped result, got %+v", report)
	}
	rec, err := journal.Transfer(context.Background(), id)
	if err != nil {
		t.Fatalf("journal transfer: %v", err)
	}
	if rec.SettledAction != string(actionReconciled) {
		t.Fatalf("action = %q, want reconciled", rec.SettledAction)
	}
}

func TestTickExpiresTransfersOpenedBeforeJournal(t *testing.T) {
	journal := openTestJournal(t)
	f := runtimetest.New(t)
	rt := f.Runtime
	f.Fund(t, runtimetest.USDC, runtimetest.Alice, big.NewInt(1_000_000_000))
	unjournaled, err := rt.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(10_000_000))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	journaled, err := rt.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(10_000_000))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	journal.Emit(events.TransferInitiated{ID: journaled, Sender: runtimetest.Alice, CreatedAt: f.Now()})
	f.Advance(week + 1)

	mgr, err := New(rt, testConfig(), WithJournal(journal), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ids, err := mgr.pendingIDs(context.Background())
	if err != nil {
		t.Fatalf("pending ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != journaled || ids[1] != unjournaled {
		t.Fatalf("pending ids = %v, want [%d %d]", ids, journaled, unjournaled)
	}
	report, err := mgr.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Expired != 2 || report.Skipped != 0 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := f.Balance(t, runtimetest.USDC, runtimetest.Alice); got.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("alice balance = %s, want full refund", got)
	}
}

func TestTickWithoutJournalUsesNodeState(t *testing.T) {
	f := runtimetest.New(t)
	rt := f.Runtime
	f.Fund(t, runtimetest.USDC, runtimetest.Alice, big.NewInt(1_000_000_000))
	for i := 0; i < 3; i++ {
		if _, err := rt.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(10_000_000)); err != nil {
			t.Fatalf("initiate: %v", err)
		}
	}
	f.Advance(week + 1)
	mgr, err := New(rt, testConfig(), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	report, err := mgr.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Expired != 3 {
		t.Fatalf("expected 3 expired, got %+v", report)
	}
	if got := f.Balance(t, runtimetest.USDC, runtimetest.Alice); got.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("alice balance = %s, want full refund", got)
	}
}

func TestTickTriggersBuybackAboveThreshold(t *testing.T) {
	f := runtimetest.New(t)
	rt := f.Runtime
	refUnit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	f.Fund(t, runtimetest.REF, rt.LiquidityAccount(), new(big.Int).Mul(big.NewInt(1_000), refUnit))

	cfg := testConfig()
	cfg.Buyback = BuybackConfig{
		Enabled:      true,
		Tokens:       []string{runtimetest.USDC.Hex()},
		ToleranceBps: 100,
	}
	mgr, err := New(rt, cfg, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	// $50 of USDC sits below the $100 threshold.
	f.Fund(t, runtimetest.USDC, rt.TreasuryAccount(), big.NewInt(50_000_000))
	report, err := mgr.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if report.Upside.Triggerable || len(report.Buybacks) != 0 {
		t.Fatalf("buyback should not trigger below threshold: %+v", report)
	}

	f.Fund(t, runtimetest.USDC, rt.TreasuryAccount(), big.NewInt(150_000_000))
	report, err = mgr.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !report.Upside.Triggerable || len(report.Buybacks) != 1 {
		t.Fatalf("expected one buyback leg: %+v", report)
	}
	leg := report.Buybacks[0]
	if !leg.Success {
		t.Fatalf("buyback leg failed: %s", leg.Reason)
	}
	want := new(big.Int).Mul(big.NewInt(100), refUnit)
	if leg.AmountOut.Cmp(want) != 0 {
		t.Fatalf("amount out = %s, want %s", leg.AmountOut, want)
	}
	if got := f.Balance(t, runtimetest.USDC, rt.TreasuryAccount()); got.Sign() != 0 {
		t.Fatalf("treasury still holds %s USDC", got)
	}
}

func TestNewRejectsToleranceAtOrAboveWhole(t *testing.T) {
	f := runtimetest.New(t)
	for _, bps := range []uint32{10_000, 20_000} {
		cfg := testConfig()
		cfg.Buyback.ToleranceBps = bps
		if _, err := New(f.Runtime, cfg); err == nil {
			t.Fatalf("expected tolerance %d to be rejected", bps)
		}
	}
	cfg := testConfig()
	cfg.Buyback.ToleranceBps = 9_999
	if _, err := New(f.Runtime, cfg, WithLogger(quietLogger())); err != nil {
		t.Fatalf("tolerance 9999: %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := runtimetest.New(t)
	mgr, err := New(f.Runtime, testConfig(), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
}
