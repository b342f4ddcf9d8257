package keeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"

	"securepay/core/events"
)

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

const schema = `
CREATE TABLE IF NOT EXISTS transfers (
    id INTEGER PRIMARY KEY,
    sender TEXT NOT NULL,
    receiver TEXT NOT NULL,
    token TEXT NOT NULL,
    amount TEXT NOT NULL,
    fee TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    settled_action TEXT NOT NULL DEFAULT '',
    settled_amount TEXT NOT NULL DEFAULT '',
    settled_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS transfers_pending ON transfers(settled_action, created_at);
CREATE TABLE IF NOT EXISTS buybacks (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    token TEXT NOT NULL,
    amount_in TEXT NOT NULL,
    amount_out TEXT NOT NULL,
    success INTEGER NOT NULL,
    reason TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
`

// ErrPathRequired is returned when the journal path is missing.
var ErrPathRequired = errors.New("keeper: journal path must be configured")

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve journal path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Journal mirrors committed escrow and buyback events into SQLite so the
// keeper can find stale transfers without scanning node state.
type Journal struct {
	db      *sql.DB
	logger  *slog.Logger
	timeout time.Duration
	nowFn   func() time.Time
}

// OpenJournal opens (or creates) the journal at dsn.
func OpenJournal(dsn string) (*Journal, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Journal{
		db:      db,
		logger:  slog.Default(),
		timeout: 5 * time.Second,
		nowFn:   time.Now,
	}, nil
}

// SetLogger overrides the logger used for write failures.
func (j *Journal) SetLogger(logger *slog.Logger) {
	if j == nil || logger == nil {
		return
	}
	j.logger = logger
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Emit implements events.Emitter. It is called synchronously after each
// committed command, so failures are logged rather than propagated.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || j.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	var err error
	switch e := evt.(type) {
	case events.TransferInitiated:
		err = j.RecordInitiated(ctx, e)
	case events.TransferSettled:
		err = j.MarkSettled(ctx, e.ID, e.Action, e.Amount)
	case events.BuybackExecuted:
		err = j.recordBuyback(ctx, e.Token.Hex(), e.AmountIn, e.AmountOut, true, "")
	case events.BuybackFailed:
		err = j.recordBuyback(ctx, e.Token.Hex(), e.AmountIn, nil, false, e.Reason)
	default:
		return
	}
	if err != nil {
		j.logger.Error("keeper journal write failed", slog.String("event", evt.EventType()), slog.Any("error", err))
	}
}

// RecordInitiated stores a newly locked transfer.
func (j *Journal) RecordInitiated(ctx context.Context, e events.TransferInitiated) error {
	_, err := j.db.ExecContext(ctx, `
        INSERT INTO transfers(id, sender, receiver, token, amount, fee, created_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO NOTHING
    `, int64(e.ID), e.Sender.Hex(), e.Receiver.Hex(), e.Token.Hex(), amountString(e.Amount), amountString(e.Fee), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

// MarkSettled records the terminal action of a transfer. Unknown ids are
// ignored.
func (j *Journal) MarkSettled(ctx context.Context, id uint64, action events.SettlementAction, amount *big.Int) error {
	_, err := j.db.ExecContext(ctx, `
        UPDATE transfers SET settled_action = ?, settled_amount = ?, settled_at = ?
        WHERE id = ? AND settled_action = ''
    `, string(action), amountString(amount), j.nowFn().UTC().Unix(), int64(id))
	if err != nil {
		return fmt.Errorf("settle transfer %d: %w", id, err)
	}
	return nil
}

// Pending returns up to limit unsettled transfer ids created at or before
// cutoff, oldest first.
func (j *Journal) Pending(ctx context.Context, cutoff int64, limit int) ([]uint64, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT id FROM transfers
        WHERE settled_action = '' AND created_at <= ?
        ORDER BY created_at ASC, id ASC
        LIMIT ?
    `, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()
	ids := make([]uint64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

// PendingCount returns the number of unsettled transfers.
func (j *Journal) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transfers WHERE settled_action = ''`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

// TransferRecord is the journal's view of one transfer.
type TransferRecord struct {
	ID            uint64
	Sender        string
	Receiver      string
	Token         string
	Amount        string
	Fee           string
	CreatedAt     int64
	SettledAction string
	SettledAmount string
	SettledAt     int64
}

// Transfer loads one journal row.
func (j *Journal) Transfer(ctx context.Context, id uint64) (TransferRecord, error) {
	rec := TransferRecord{}
	row := j.db.QueryRowContext(ctx, `
        SELECT id, sender, receiver, token, amount, fee, created_at, settled_action, settled_amount, settled_at
        FROM transfers WHERE id = ?
    `, int64(id))
	var rawID int64
	if err := row.Scan(&rawID, &rec.Sender, &rec.Receiver, &rec.Token, &rec.Amount, &rec.Fee, &rec.CreatedAt, &rec.SettledAction, &rec.SettledAmount, &rec.SettledAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, fmt.Errorf("transfer %d not journaled", id)
		}
		return rec, fmt.Errorf("query transfer: %w", err)
	}
	rec.ID = uint64(rawID)
	return rec, nil
}

// BuybackRecord is one journaled buyback outcome.
type BuybackRecord struct {
	Token      string `json:"token"`
	AmountIn   string `json:"amountIn"`
	AmountOut  string `json:"amountOut"`
	Success    bool   `json:"success"`
	Reason     string `json:"reason,omitempty"`
	RecordedAt int64  `json:"recordedAt"`
}

// RecentBuybacks returns up to limit buyback outcomes, newest first.
func (j *Journal) RecentBuybacks(ctx context.Context, limit int) ([]BuybackRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT token, amount_in, amount_out, success, reason, recorded_at
        FROM buybacks ORDER BY seq DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query buybacks: %w", err)
	}
	defer rows.Close()
	var out []BuybackRecord
	for rows.Next() {
		var rec BuybackRecord
		var success int
		if err := rows.Scan(&rec.Token, &rec.AmountIn, &rec.AmountOut, &success, &rec.Reason, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan buyback: %w", err)
		}
		rec.Success = success != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (j *Journal) recordBuyback(ctx context.Context, token string, in, out *big.Int, success bool, reason string) error {
	flag := 0
	if success {
		flag = 1
	}
	_, err := j.db.ExecContext(ctx, `
        INSERT INTO buybacks(token, amount_in, amount_out, success, reason, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, token, amountString(in), amountString(out), flag, strings.TrimSpace(reason), j.nowFn().UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert buyback: %w", err)
	}
	return nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
