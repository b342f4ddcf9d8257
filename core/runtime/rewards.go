package runtime

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"securepay/native/rewards"
)

// CheckIn records today's check-in for account and pays the streak reward.
func (r *Runtime) CheckIn(account common.Address) (rewards.CheckIn, *big.Int, error) {
	var (
		ci     rewards.CheckIn
		reward *big.Int
	)
	err := r.apply("CheckIn", func() error {
		var err error
		ci, reward, err = r.rewards.CheckIn(account)
		return err
	})
	return ci, reward, err
}

// AddTask registers a task. Owner only.
func (r *Runtime) AddTask(caller common.Address, targetCount uint64, reward *big.Int, taskType rewards.TaskType) (uint64, error) {
	var id uint64
	err := r.apply("AddTask", func() error {
		var err error
		id, err = r.rewards.AddTask(caller, targetCount, reward, taskType)
		return err
	})
	return id, err
}

// RemoveTask deletes a task. Owner only.
func (r *Runtime) RemoveTask(caller common.Address, id uint64) error {
	return r.apply("RemoveTask", func() error { return r.rewards.RemoveTask(caller, id) })
}

// ClaimTaskReward pays a completed task.
func (r *Runtime) ClaimTaskReward(account common.Address, id uint64) (*big.Int, error) {
	var reward *big.Int
	err := r.apply("ClaimTaskReward", func() error {
		var err error
		reward, err = r.rewards.ClaimTaskReward(account, id)
		return err
	})
	return reward, err
}

// ClaimReward pays a signed grant to account.
func (r *Runtime) ClaimReward(account common.Address, amount *big.Int, nonce [32]byte, sig []byte) error {
	return r.apply("ClaimReward", func() error { return r.rewards.ClaimReward(account, amount, nonce, sig) })
}

// SetIssuer configures the trusted claim issuer. Owner only.
func (r *Runtime) SetIssuer(caller, issuer common.Address) error {
	return r.apply("SetIssuer", func() error { return r.rewards.SetIssuer(caller, issuer) })
}

// SetRewardToken configures the reward asset. Owner only.
func (r *Runtime) SetRewardToken(caller, token common.Address) error {
	return r.apply("SetRewardToken", func() error { return r.rewards.SetRewardToken(caller, token) })
}

// SetCheckInUnit configures the one-day streak payout. Owner only.
func (r *Runtime) SetCheckInUnit(caller common.Address, unit *big.Int) error {
	return r.apply("SetCheckInUnit", func() error { return r.rewards.SetCheckInUnit(caller, unit) })
}

// FundRewardPool moves reward tokens from funder into the pool.
func (r *Runtime) FundRewardPool(funder common.Address, amount *big.Int) error {
	return r.apply("FundRewardPool", func() error { return r.rewards.FundPool(funder, amount) })
}

// GetCheckIn returns the streak state of account.
func (r *Runtime) GetCheckIn(account common.Address) (rewards.CheckIn, bool, error) {
	var (
		ci   rewards.CheckIn
		seen bool
	)
	err := r.view(func() error {
		var err error
		ci, seen, err = r.rewards.GetCheckIn(account)
		return err
	})
	return ci, seen, err
}

// GetTaskProgress reports account's progress towards task id.
func (r *Runtime) GetTaskProgress(account common.Address, id uint64) (rewards.Progress, error) {
	var progress rewards.Progress
	err := r.view(func() error {
		var err error
		progress, err = r.rewards.GetTaskProgress(account, id)
		return err
	})
	return progress, err
}

// Tasks lists the registered tasks.
func (r *Runtime) Tasks() ([]rewards.Task, error) {
	var tasks []rewards.Task
	err := r.view(func() error {
		var err error
		tasks, err = r.rewards.Tasks()
		return err
	})
	return tasks, err
}

// IsNonceUsed reports whether account consumed nonce.
func (r *Runtime) IsNonceUsed(account common.Address, nonce [32]byte) (bool, error) {
	var used bool
	err := r.view(func() error {
		var err error
		used, err = r.rewards.IsNonceUsed(account, nonce)
		return err
	})
	return used, err
}

// ClaimDigest returns the digest a grant for account must be signed over.
func (r *Runtime) ClaimDigest(account common.Address, amount *big.Int, nonce [32]byte) ([32]byte, error) {
	return rewards.ClaimDigest(account, amount, nonce, r.domainID, r.rewards.Pool())
}

// RewardPoolBalance returns what the pool can still pay out.
func (r *Runtime) RewardPoolBalance() (*big.Int, error) {
	var bal *big.Int
	err := r.view(func() error {
		var err error
		bal, err = r.rewards.PoolBalance()
		return err
	})
	return bal, err
}

// RewardsConfig returns the issuer, reward token and check-in unit.
func (r *Runtime) RewardsConfig() (rewards.Config, error) {
	var cfg rewards.Config
	err := r.view(func() error {
		var err error
		cfg, err = r.rewards.Config()
		return err
	})
	return cfg, err
}
