package keeper

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"securepay/core/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dsn, err := FileDSN(filepath.Join(t.TempDir(), "journal.sqlite"))
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	journal, err := OpenJournal(dsn)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })
	return journal
}

func TestFileDSNRequiresPath(t *testing.T) {
	if _, err := FileDSN("  "); err != ErrPathRequired {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
}

func TestJournalTracksTransferLifecycle(t *testing.T) {
	journal := openTestJournal(t)
	ctx := context.Background()
	sender := common.HexToAddress("0x01")
	for id, created := range map[uint64]int64{1: 100, 2: 200, 3: 300} {
		journal.Emit(events.TransferInitiated{
			ID:        id,
			Sender:    sender,
			Receiver:  common.HexToAddress("0x02"),
			Token:     common.HexToAddress("0x03"),
			Amount:    big.NewInt(1_000),
			Fee:       big.NewInt(10),
			CreatedAt: created,
		})
	}
	journal.Emit(events.TransferSettled{ID: 2, Action: events.ActionReleased, Amount: big.NewInt(1_000)})

	pending, err := journal.Pending(ctx, 250, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != 1 {
		t.Fatalf("pending = %v, want [1]", pending)
	}
	count, err := journal.PendingCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("pending count = %d, want 2", count)
	}

	rec, err := journal.Transfer(ctx, 2)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if rec.SettledAction != string(events.ActionReleased) || rec.Fee != "10" || rec.Sender != sender.Hex() {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// A second settlement of the same id must not overwrite the first.
	if err := journal.MarkSettled(ctx, 2, events.ActionExpired, nil); err != nil {
		t.Fatalf("mark settled: %v", err)
	}
	rec, _ = journal.Transfer(ctx, 2)
	if rec.SettledAction != string(events.ActionReleased) {
		t.Fatalf("settlement overwritten: %s", rec.SettledAction)
	}
	if _, err := journal.Transfer(ctx, 9); err == nil {
		t.Fatalf("expected error for unknown transfer")
	}
}

func TestJournalRecordsBuybacks(t *testing.T) {
	journal := openTestJournal(t)
	token := common.HexToAddress("0x0c")
	journal.Emit(events.BuybackExecuted{Token: token, AmountIn: big.NewInt(5), AmountOut: big.NewInt(7)})
	journal.Emit(events.BuybackFailed{Token: token, AmountIn: big.NewInt(3), Reason: "slippage"})

	recs, err := journal.RecentBuybacks(context.Background(), 10)
	if err != nil {
		t.Fatalf("buybacks: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Success || recs[0].Reason != "slippage" {
		t.Fatalf("newest record should be the failure: %+v", recs[0])
	}
	if !recs[1].Success || recs[1].AmountOut != "7" {
		t.Fatalf("unexpected success record: %+v", recs[1])
	}
}
