package runtime_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"securepay/core/events"
	"securepay/core/runtime"
	"securepay/core/runtime/runtimetest"
	"securepay/native/access"
	"securepay/native/bank"
	"securepay/native/escrow"
	"securepay/native/oracle"
	"securepay/native/rewards"
	"securepay/native/timelock"
	"securepay/storage"
)

func TestGenesisBootstrapsFromConfig(t *testing.T) {
	f := runtimetest.New(t)
	rt := f.Runtime

	owner, err := rt.Owner()
	require.NoError(t, err)
	require.Equal(t, f.Owner, owner)

	ok, err := rt.HasRole(access.RoleKeeper, runtimetest.Keeper)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = rt.HasRole(access.RoleOracle, runtimetest.Publisher)
	require.NoError(t, err)
	require.True(t, ok)

	info, err := rt.TokenInfo(runtimetest.USDC)
	require.NoError(t, err)
	require.Equal(t, uint8(6), info.Decimals)
	native, err := rt.TokenInfo(bank.NativeToken)
	require.NoError(t, err)
	require.Equal(t, bank.NativeSymbol, native.Symbol)

	params, err := rt.EscrowParams()
	require.NoError(t, err)
	require.Equal(t, uint32(10), params.FeeBps)

	cfg, err := rt.TreasuryConfig()
	require.NoError(t, err)
	require.True(t, cfg.Enabled)
	require.Equal(t, runtimetest.REF, cfg.Reference)
	require.Zero(t, cfg.Threshold.Cmp(oracle.USD(100)))
}

func TestNewBootstrapsEmptyDatabase(t *testing.T) {
	rt, err := runtime.New(storage.NewMemDB(), runtimetest.Config(runtimetest.Alice))
	require.NoError(t, err)

	owner, err := rt.Owner()
	require.NoError(t, err)
	require.Equal(t, runtimetest.Alice, owner)
	native, err := rt.TokenInfo(bank.NativeToken)
	require.NoError(t, err)
	require.Equal(t, bank.NativeSymbol, native.Symbol)
	require.Equal(t, uint8(bank.NativeDecimals), native.Decimals)
	weth, err := rt.TokenInfo(runtimetest.WETH)
	require.NoError(t, err)
	require.Equal(t, "WETH", weth.Symbol)
}

func TestFundedTokenAccountCanInitiate(t *testing.T) {
	f := runtimetest.New(t)
	rt := f.Runtime
	f.Fund(t, runtimetest.USDC, runtimetest.Alice, big.NewInt(100_000_000))

	id, err := rt.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(10_000_000))
	require.NoError(t, err)
	transfer, err := rt.GetTransfer(id)
	require.NoError(t, err)
	require.True(t, transfer.Active())

	f.Approve(t, runtimetest.USDC, runtimetest.Alice, big.NewInt(0))
	_, err = rt.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(10_000_000))
	require.ErrorIs(t, err, bank.ErrInsufficientAllowance)
}

func TestReopenSkipsGenesis(t *testing.T) {
	f := runtimetest.New(t)
	other := runtimetest.Config(runtimetest.Alice)
	reopened, err := runtime.New(f.DB, other)
	require.NoError(t, err)
	owner, err := reopened.Owner()
	require.NoError(t, err)
	require.Equal(t, f.Owner, owner, "existing state must not be re-bootstrapped")
}

func TestFailedGenesisLeavesDatabaseEmpty(t *testing.T) {
	db := storage.NewMemDB()
	cfg := runtimetest.Config(runtimetest.Alice)
	cfg.Tokens = append(cfg.Tokens, cfg.Tokens[0])
	_, err := runtime.New(db, cfg)
	require.ErrorIs(t, err, bank.ErrTokenExists)
	require.Zero(t, db.Len())
}

func TestRejectedCommandLeavesStateUntouched(t *testing.T) {
	f := runtimetest.New(t)
	f.Fund(t, runtimetest.USDC, runtimetest.Alice, big.NewInt(1_000_000_000))
	before := f.DB.Len()
	seen := len(f.Events.Events())

	_, err := f.Runtime.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(10))
	require.ErrorIs(t, err, escrow.ErrBelowMinimum)
	require.Equal(t, before, f.DB.Len())
	require.Len(t, f.Events.Events(), seen)

	_, err = f.Runtime.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(2_000_000_000))
	require.ErrorIs(t, err, bank.ErrInsufficientBalance)
	require.Equal(t, big.NewInt(1_000_000_000), f.Balance(t, runtimetest.USDC, runtimetest.Alice))
	require.Len(t, f.Events.Events(), seen)
}

func TestEventsDeliveredAfterCommit(t *testing.T) {
	f := runtimetest.New(t)
	f.Fund(t, runtimetest.USDC, runtimetest.Alice, big.NewInt(1_000_000_000))

	var committed bool
	reader := events.EmitterFunc(func(evt events.Event) {
		if _, ok := evt.(events.TransferInitiated); !ok {
			return
		}
		// The sink reads the database directly: the transfer must already be there.
		fresh, err := runtime.New(f.DB, f.Config)
		if err != nil {
			t.Errorf("reopen: %v", err)
			return
		}
		got, err := fresh.GetTransfer(1)
		committed = err == nil && got.Active()
	})
	rt, err := runtime.New(f.DB, f.Config, runtime.WithEmitter(reader), runtime.WithNowFunc(f.Now))
	require.NoError(t, err)

	_, err = rt.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(100_000_000))
	require.NoError(t, err)
	require.True(t, committed)
}

func TestSecuredTransferLifecycle(t *testing.T) {
	f := runtimetest.New(t)
	rt := f.Runtime
	f.Fund(t, runtimetest.USDC, runtimetest.Alice, big.NewInt(1_000_000_000))

	quote, err := rt.QuoteFee(runtimetest.USDC, big.NewInt(100_000_000))
	require.NoError(t, err)
	require.Equal(t, int64(100_000), quote.Fee.Int64())

	id, err := rt.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(100_000_000))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100_100_000), f.Balance(t, runtimetest.USDC, rt.EscrowVault()))

	outbox, err := rt.OutboxIDs(runtimetest.Alice)
	require.NoError(t, err)
	require.Equal(t, []uint64{id}, outbox)

	require.ErrorIs(t, rt.Confirm(runtimetest.Bob, id), escrow.ErrNotSender)
	require.NoError(t, rt.Confirm(runtimetest.Alice, id))
	require.Equal(t, big.NewInt(100_000_000), f.Balance(t, runtimetest.USDC, runtimetest.Bob))
	require.Equal(t, big.NewInt(100_000), f.Balance(t, runtimetest.USDC, rt.TreasuryAccount()))

	total, err := rt.TotalTransferCount(runtimetest.Alice)
	require.NoError(t, err)
	require.Equal(t, uint64(1), total)

	types := f.Events.Types()
	require.Equal(t, events.TypeTransferSettled, types[len(types)-1])
}

func TestTaskRewardsFollowEscrowCounters(t *testing.T) {
	f := runtimetest.New(t)
	rt := f.Runtime
	f.Fund(t, runtimetest.USDC, runtimetest.Alice, big.NewInt(1_000_000_000))
	f.Fund(t, bank.NativeToken, f.Owner, big.NewInt(1_000_000))
	require.NoError(t, rt.FundRewardPool(f.Owner, big.NewInt(1_000_000)))

	taskID, err := rt.AddTask(f.Owner, 1, big.NewInt(5_000), rewards.TaskDaily)
	require.NoError(t, err)
	_, err = rt.ClaimTaskReward(runtimetest.Alice, taskID)
	require.ErrorIs(t, err, rewards.ErrTaskIncomplete)

	id, err := rt.Initiate(runtimetest.Alice, runtimetest.USDC, runtimetest.Bob, big.NewInt(100_000_000))
	require.NoError(t, err)
	require.NoError(t, rt.Confirm(runtimetest.Alice, id))

	reward, err := rt.ClaimTaskReward(runtimetest.Alice, taskID)
	require.NoError(t, err)
	require.Equal(t, int64(5_000), reward.Int64())
	require.Equal(t, big.NewInt(5_000), f.Balance(t, bank.NativeToken, runtimetest.Alice))

	_, reward, err = rt.CheckIn(runtimetest.Alice)
	require.NoError(t, err)
	require.Equal(t, int64(1_000), reward.Int64())
}

func TestTimelockedEscrowParams(t *testing.T) {
	f := runtimetest.New(t)
	rt := f.Runtime
	payload := []byte(`{"FeeBps":25,"FeeFloorUSD":"0.02","FeeCapUSD":"3","MinTransferUSD":"5","MaxPendingPerSender":5,"ExpireSeconds":600}`)

	_, err := rt.ProposeChange(runtimetest.Alice, runtime.ActionEscrowParams, payload)
	require.ErrorIs(t, err, access.ErrUnauthorized)
	_, err = rt.ProposeChange(f.Owner, runtime.ActionEscrowParams, []byte(`{"FeeBps":20000}`))
	require.ErrorIs(t, err, timelock.ErrInvalidPayload)

	change, err := rt.ProposeChange(f.Owner, runtime.ActionEscrowParams, payload)
	require.NoError(t, err)
	_, err = rt.ExecuteChange(runtimetest.Keeper, change.ID)
	require.ErrorIs(t, err, timelock.ErrNotReady)

	f.Advance(100)
	_, err = rt.ExecuteChange(runtimetest.Keeper, change.ID)
	require.NoError(t, err)

	params, err := rt.EscrowParams()
	require.NoError(t, err)
	require.Equal(t, uint32(25), params.FeeBps)
	require.Equal(t, uint64(600), params.ExpireDuration)
	require.Zero(t, params.MinTransferUSD.Cmp(oracle.USD(5)))

	stored, err := rt.Change(change.ID)
	require.NoError(t, err)
	require.Equal(t, timelock.StatusExecuted, stored.Status)
}

func TestTimelockHandlersActAsCurrentOwner(t *testing.T) {
	f := runtimetest.New(t)
	rt := f.Runtime
	change, err := rt.ProposeChange(f.Owner, runtime.ActionRewardsIssuer, []byte(`{"Issuer":"`+runtimetest.Bob.Hex()+`"}`))
	require.NoError(t, err)
	// Ownership moves away; the handler still runs as the current owner.
	require.NoError(t, rt.TransferOwnership(f.Owner, runtimetest.Alice))
	f.Advance(100)
	_, err = rt.ExecuteChange(runtimetest.Keeper, change.ID)
	require.NoError(t, err)

	cfg, err := rt.RewardsConfig()
	require.NoError(t, err)
	require.Equal(t, runtimetest.Bob, cfg.Issuer)

	_, err = rt.ExecuteChange(runtimetest.Keeper, change.ID)
	require.True(t, errors.Is(err, timelock.ErrNotQueued))
}
