package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"securepay/native/oracle"
)

// SecondsPerDay buckets timestamps into UTC day indices.
const SecondsPerDay = 86_400

// Day returns the UTC day index of a unix timestamp.
func Day(ts int64) uint64 {
	if ts <= 0 {
		return 0
	}
	return uint64(ts / SecondsPerDay)
}

// Transfer is a secured transfer. The record is active while Sender is set;
// settlement removes it entirely.
type Transfer struct {
	ID          uint64
	Sender      common.Address
	Receiver    common.Address
	Token       common.Address
	Amount      *big.Int
	TotalAmount *big.Int
	CreatedAt   int64
}

// Active reports whether the transfer still holds locked funds.
func (t Transfer) Active() bool {
	return t.Sender != (common.Address{})
}

// Fee returns the portion of TotalAmount retained for the treasury.
func (t Transfer) Fee() *big.Int {
	if t.TotalAmount == nil {
		return big.NewInt(0)
	}
	fee := new(big.Int).Set(t.TotalAmount)
	if t.Amount != nil {
		fee.Sub(fee, t.Amount)
	}
	return fee
}

func emptyTransfer() Transfer {
	return Transfer{Amount: big.NewInt(0), TotalAmount: big.NewInt(0)}
}

type storedTransfer struct {
	ID          uint64
	Sender      common.Address
	Receiver    common.Address
	Token       common.Address
	Amount      *big.Int
	TotalAmount *big.Int
	CreatedAt   uint64
}

func newStoredTransfer(t Transfer) storedTransfer {
	return storedTransfer{
		ID:          t.ID,
		Sender:      t.Sender,
		Receiver:    t.Receiver,
		Token:       t.Token,
		Amount:      cloneBigInt(t.Amount),
		TotalAmount: cloneBigInt(t.TotalAmount),
		CreatedAt:   uint64(t.CreatedAt),
	}
}

func (s storedTransfer) toTransfer() Transfer {
	return Transfer{
		ID:          s.ID,
		Sender:      s.Sender,
		Receiver:    s.Receiver,
		Token:       s.Token,
		Amount:      cloneBigInt(s.Amount),
		TotalAmount: cloneBigInt(s.TotalAmount),
		CreatedAt:   int64(s.CreatedAt),
	}
}

// Params are the protocol constants governing fees and resource limits. USD
// values use oracle.USDDecimals fixed point.
type Params struct {
	FeeBps              uint32
	FeeFloorUSD         *big.Int
	FeeCapUSD           *big.Int
	MinTransferUSD      *big.Int
	MaxPendingPerSender uint64
	ExpireDuration      uint64
}

// DefaultParams returns 10 bps with a $0.01 floor and $1 cap, a $1 minimum,
// 50 pending transfers per sender and a seven day expiry.
func DefaultParams() Params {
	return Params{
		FeeBps:              10,
		FeeFloorUSD:         oracle.USDCents(1),
		FeeCapUSD:           oracle.USD(1),
		MinTransferUSD:      oracle.USD(1),
		MaxPendingPerSender: 50,
		ExpireDuration:      7 * SecondsPerDay,
	}
}

// Validate ensures the parameters are internally consistent.
func (p Params) Validate() error {
	if p.FeeBps > 10_000 {
		return fmt.Errorf("escrow: fee bps %d out of range", p.FeeBps)
	}
	if p.FeeFloorUSD == nil || p.FeeFloorUSD.Sign() < 0 {
		return fmt.Errorf("escrow: fee floor must be non-negative")
	}
	if p.FeeCapUSD == nil || p.FeeCapUSD.Sign() < 0 {
		return fmt.Errorf("escrow: fee cap must be non-negative")
	}
	if p.FeeFloorUSD.Cmp(p.FeeCapUSD) > 0 {
		return fmt.Errorf("escrow: fee floor exceeds cap")
	}
	if p.MinTransferUSD == nil || p.MinTransferUSD.Sign() < 0 {
		return fmt.Errorf("escrow: minimum transfer must be non-negative")
	}
	if p.MaxPendingPerSender == 0 {
		return fmt.Errorf("escrow: max pending per sender must be positive")
	}
	if p.ExpireDuration == 0 {
		return fmt.Errorf("escrow: expire duration must be positive")
	}
	return nil
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	out := p
	out.FeeFloorUSD = cloneBigInt(p.FeeFloorUSD)
	out.FeeCapUSD = cloneBigInt(p.FeeCapUSD)
	out.MinTransferUSD = cloneBigInt(p.MinTransferUSD)
	return out
}

// ExpireStatus reports what happened to one id of a ForceExpireBatch call.
type ExpireStatus string

const (
	ExpireStatusExpired ExpireStatus = "expired"
	ExpireStatusSkipped ExpireStatus = "skipped"
	ExpireStatusFailed  ExpireStatus = "failed"
)

// Skip reasons recorded in ExpireResult.Reason.
const (
	ReasonNotActive  = "not_active"
	ReasonNotExpired = "not_expired"
)

// ExpireResult is the per-id outcome of ForceExpireBatch.
type ExpireResult struct {
	ID       uint64
	Status   ExpireStatus
	Reason   string
	Refunded *big.Int
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
