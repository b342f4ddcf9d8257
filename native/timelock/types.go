package timelock

import "github.com/ethereum/go-ethereum/common"

// Status enumerates the lifecycle of a proposed change.
type Status uint8

const (
	StatusUnspecified Status = iota
	StatusQueued
	StatusExecuted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusExecuted:
		return "executed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unspecified"
	}
}

// Change is an administrative action waiting out its delay.
type Change struct {
	ID       uint64
	Action   string
	Payload  []byte
	Proposer common.Address
	ETA      int64
	Status   Status
}

type storedChange struct {
	ID       uint64
	Action   string
	Payload  []byte
	Proposer common.Address
	ETA      uint64
	Status   uint8
}

func (s storedChange) toChange() Change {
	return Change{
		ID:       s.ID,
		Action:   s.Action,
		Payload:  append([]byte(nil), s.Payload...),
		Proposer: s.Proposer,
		ETA:      int64(s.ETA),
		Status:   Status(s.Status),
	}
}

// Policy controls how long a change waits and how long it stays executable.
type Policy struct {
	DelaySeconds uint64
	GraceSeconds uint64
}

// DefaultPolicy waits two days and keeps a change executable for two weeks.
func DefaultPolicy() Policy {
	return Policy{DelaySeconds: 2 * 86_400, GraceSeconds: 14 * 86_400}
}

// Handler validates and applies the payload of one action.
type Handler interface {
	Validate(payload []byte) error
	Apply(payload []byte) error
}

// HandlerFuncs adapts a pair of functions to Handler. A nil Validate accepts
// every payload.
type HandlerFuncs struct {
	ValidateFn func(payload []byte) error
	ApplyFn    func(payload []byte) error
}

func (h HandlerFuncs) Validate(payload []byte) error {
	if h.ValidateFn == nil {
		return nil
	}
	return h.ValidateFn(payload)
}

func (h HandlerFuncs) Apply(payload []byte) error {
	if h.ApplyFn == nil {
		return nil
	}
	return h.ApplyFn(payload)
}
