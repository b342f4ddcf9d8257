package rewards

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TaskType selects which transfer counter a task reads.
type TaskType uint8

const (
	TaskDaily TaskType = iota + 1
	TaskCumulative
)

func (t TaskType) String() string {
	switch t {
	case TaskDaily:
		return "daily"
	case TaskCumulative:
		return "cumulative"
	default:
		return "unknown"
	}
}

// Valid reports whether the type is known.
func (t TaskType) Valid() bool {
	return t == TaskDaily || t == TaskCumulative
}

// ParseTaskType accepts "daily" or "cumulative".
func ParseTaskType(raw string) (TaskType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "daily":
		return TaskDaily, nil
	case "cumulative":
		return TaskCumulative, nil
	default:
		return 0, fmt.Errorf("rewards: unknown task type %q", raw)
	}
}

// Task pays RewardAmount once TargetCount released transfers are reached.
type Task struct {
	ID           uint64
	TargetCount  uint64
	RewardAmount *big.Int
	Type         TaskType
}

// CheckIn is the streak state of one account.
type CheckIn struct {
	Streak          uint64
	LastCheckInTime int64
}

type storedCheckIn struct {
	Streak          uint64
	LastCheckInTime uint64
}

// Progress reports how far an account is through a task.
type Progress struct {
	Actual    uint64
	Target    uint64
	Completed bool
}

// Config is the rewards configuration held in state.
type Config struct {
	Issuer      common.Address
	Token       common.Address
	CheckInUnit *big.Int
}
