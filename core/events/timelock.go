package events

import "securepay/core/types"

const (
	TypeTimelockQueued    = "timelock.queued"
	TypeTimelockExecuted  = "timelock.executed"
	TypeTimelockCancelled = "timelock.cancelled"
)

// TimelockChange describes a lifecycle step of a proposed administrative change.
type TimelockChange struct {
	Kind   string
	ID     uint64
	Action string
	ETA    int64
}

// EventType satisfies the events.Event interface.
func (e TimelockChange) EventType() string { return e.Kind }

// Event converts the structured payload into a broadcastable event.
func (e TimelockChange) Event() *types.Event {
	return &types.Event{Type: e.Kind, Attributes: map[string]string{
		"id":     formatUint(e.ID),
		"action": e.Action,
		"eta":    formatInt(e.ETA),
	}}
}
