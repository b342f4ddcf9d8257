package events

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"securepay/core/types"
)

const (
	// TypeBuybackExecuted marks a successful treasury conversion and burn.
	TypeBuybackExecuted = "treasury.buyback.executed"
	// TypeBuybackFailed marks a treasury conversion that was skipped or rolled back.
	TypeBuybackFailed = "treasury.buyback.failed"
	// TypeTreasuryWithdrawal marks an owner emergency withdrawal.
	TypeTreasuryWithdrawal = "treasury.withdrawal"
)

// BuybackExecuted records the realised output of a buy-and-burn.
type BuybackExecuted struct {
	Token     common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	Path      []common.Address
}

// EventType satisfies the events.Event interface.
func (BuybackExecuted) EventType() string { return TypeBuybackExecuted }

// Event converts the structured payload into a broadcastable event.
func (e BuybackExecuted) Event() *types.Event {
	attrs := map[string]string{
		"token":     formatAddress(e.Token),
		"amountIn":  formatAmount(e.AmountIn),
		"amountOut": formatAmount(e.AmountOut),
		"path":      formatPath(e.Path),
	}
	return &types.Event{Type: TypeBuybackExecuted, Attributes: attrs}
}

// BuybackFailed records an isolated per-asset failure inside a buyback batch.
type BuybackFailed struct {
	Token    common.Address
	AmountIn *big.Int
	Reason   string
}

// EventType satisfies the events.Event interface.
func (BuybackFailed) EventType() string { return TypeBuybackFailed }

// Event converts the structured payload into a broadcastable event.
func (e BuybackFailed) Event() *types.Event {
	attrs := map[string]string{
		"token":    formatAddress(e.Token),
		"amountIn": formatAmount(e.AmountIn),
		"reason":   strings.TrimSpace(e.Reason),
	}
	return &types.Event{Type: TypeBuybackFailed, Attributes: attrs}
}

// TreasuryWithdrawal records an emergency withdrawal by the owner.
type TreasuryWithdrawal struct {
	Token  common.Address
	To     common.Address
	Amount *big.Int
}

// EventType satisfies the events.Event interface.
func (TreasuryWithdrawal) EventType() string { return TypeTreasuryWithdrawal }

// Event converts the structured payload into a broadcastable event.
func (e TreasuryWithdrawal) Event() *types.Event {
	return &types.Event{Type: TypeTreasuryWithdrawal, Attributes: map[string]string{
		"token":  formatAddress(e.Token),
		"to":     formatAddress(e.To),
		"amount": formatAmount(e.Amount),
	}}
}

func formatPath(path []common.Address) string {
	parts := make([]string, 0, len(path))
	for _, hop := range path {
		parts = append(parts, formatAddress(hop))
	}
	return strings.Join(parts, ">")
}
