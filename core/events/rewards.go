package events

import (
	"encoding/hex"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"securepay/core/types"
)

const (
	TypeCheckedIn         = "rewards.checkin"
	TypeTaskRewardClaimed = "rewards.task.claimed"
	TypeRewardClaimed     = "rewards.claimed"
	TypeTaskAdded         = "rewards.task.added"
	TypeTaskRemoved       = "rewards.task.removed"
)

// CheckedIn is emitted for every accepted daily check-in.
type CheckedIn struct {
	Account common.Address
	Streak  uint64
	Reward  *big.Int
	Day     uint64
}

func (CheckedIn) EventType() string { return TypeCheckedIn }

func (e CheckedIn) Event() *types.Event {
	return &types.Event{Type: TypeCheckedIn, Attributes: map[string]string{
		"account": formatAddress(e.Account),
		"streak":  formatUint(e.Streak),
		"reward":  formatAmount(e.Reward),
		"day":     formatUint(e.Day),
	}}
}

// TaskRewardClaimed is emitted when a completed task pays out.
type TaskRewardClaimed struct {
	Account common.Address
	TaskID  uint64
	Reward  *big.Int
	Day     uint64
}

func (TaskRewardClaimed) EventType() string { return TypeTaskRewardClaimed }

func (e TaskRewardClaimed) Event() *types.Event {
	return &types.Event{Type: TypeTaskRewardClaimed, Attributes: map[string]string{
		"account": formatAddress(e.Account),
		"taskId":  formatUint(e.TaskID),
		"reward":  formatAmount(e.Reward),
		"day":     formatUint(e.Day),
	}}
}

// RewardClaimed is emitted for signature-authorised grants.
type RewardClaimed struct {
	Account    common.Address
	Amount     *big.Int
	Nonce      [32]byte
	Signer     common.Address
	SelfSigned bool
}

func (RewardClaimed) EventType() string { return TypeRewardClaimed }

func (e RewardClaimed) Event() *types.Event {
	attrs := map[string]string{
		"account": formatAddress(e.Account),
		"amount":  formatAmount(e.Amount),
		"nonce":   "0x" + hex.EncodeToString(e.Nonce[:]),
		"signer":  formatAddress(e.Signer),
	}
	if e.SelfSigned {
		attrs["selfSigned"] = "true"
	}
	return &types.Event{Type: TypeRewardClaimed, Attributes: attrs}
}

// TaskAdded is emitted when an administrator registers a task.
type TaskAdded struct {
	TaskID       uint64
	TargetCount  uint64
	RewardAmount *big.Int
	TaskType     string
}

func (TaskAdded) EventType() string { return TypeTaskAdded }

func (e TaskAdded) Event() *types.Event {
	return &types.Event{Type: TypeTaskAdded, Attributes: map[string]string{
		"taskId":       formatUint(e.TaskID),
		"targetCount":  formatUint(e.TargetCount),
		"rewardAmount": formatAmount(e.RewardAmount),
		"taskType":     e.TaskType,
	}}
}

// TaskRemoved is emitted when an administrator deletes a task.
type TaskRemoved struct {
	TaskID uint64
}

func (TaskRemoved) EventType() string { return TypeTaskRemoved }

func (e TaskRemoved) Event() *types.Event {
	return &types.Event{Type: TypeTaskRemoved, Attributes: map[string]string{"taskId": formatUint(e.TaskID)}}
}
