package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"securepay/core/types"
)

const (
	// TypeTransferInitiated marks a newly locked secured transfer.
	TypeTransferInitiated = "escrow.transfer.initiated"
	// TypeTransferSettled marks the terminal transition of a secured transfer.
	TypeTransferSettled = "escrow.transfer.settled"
)

// SettlementAction tags how a secured transfer left the active state.
type SettlementAction string

const (
	ActionReleased  SettlementAction = "released"
	ActionCancelled SettlementAction = "cancelled"
	ActionExpired   SettlementAction = "expired"
)

// Valid reports whether the action is one of the known settlement outcomes.
func (a SettlementAction) Valid() bool {
	switch a {
	case ActionReleased, ActionCancelled, ActionExpired:
		return true
	default:
		return false
	}
}

// TransferInitiated is emitted once funds are locked in escrow.
type TransferInitiated struct {
	ID        uint64
	Sender    common.Address
	Receiver  common.Address
	Token     common.Address
	Amount    *big.Int
	Fee       *big.Int
	CreatedAt int64
}

// EventType satisfies the events.Event interface.
func (TransferInitiated) EventType() string { return TypeTransferInitiated }

// Event converts the structured payload into a broadcastable event.
func (e TransferInitiated) Event() *types.Event {
	attrs := map[string]string{
		"id":        formatUint(e.ID),
		"sender":    formatAddress(e.Sender),
		"receiver":  formatAddress(e.Receiver),
		"token":     formatAddress(e.Token),
		"amount":    formatAmount(e.Amount),
		"fee":       formatAmount(e.Fee),
		"createdAt": formatInt(e.CreatedAt),
	}
	return &types.Event{Type: TypeTransferInitiated, Attributes: attrs}
}

// TransferSettled is emitted when a transfer is released, cancelled or
// expired. Amount is what left the vault for the recorded action: the net
// amount for releases, the gross locked amount for refunds.
type TransferSettled struct {
	ID       uint64
	Sender   common.Address
	Receiver common.Address
	Token    common.Address
	Amount   *big.Int
	Action   SettlementAction
}

// EventType satisfies the events.Event interface.
func (TransferSettled) EventType() string { return TypeTransferSettled }

// Event converts the structured payload into a broadcastable event.
func (e TransferSettled) Event() *types.Event {
	attrs := map[string]string{
		"id":       formatUint(e.ID),
		"sender":   formatAddress(e.Sender),
		"receiver": formatAddress(e.Receiver),
		"token":    formatAddress(e.Token),
		"amount":   formatAmount(e.Amount),
		"action":   string(e.Action),
	}
	return &types.Event{Type: TypeTransferSettled, Attributes: attrs}
}
