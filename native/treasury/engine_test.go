package treasury

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"securepay/core/events"
	"securepay/core/state"
	"securepay/native/access"
	"securepay/native/bank"
	"securepay/native/oracle"
	"securepay/storage"
)

var (
	ownerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	keeperAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	reporterAddr = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	usdxToken    = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	wethToken    = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	refToken     = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	oddToken     = common.HexToAddress("0x00000000000000000000000000000000000000c4")
	idleToken    = common.HexToAddress("0x00000000000000000000000000000000000000c5")
	liquidity    = bank.ModuleAccount("liquidity")
)

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *captureEmitter) count(kind string) int {
	n := 0
	for _, evt := range c.events {
		if evt.EventType() == kind {
			n++
		}
	}
	return n
}

type testEnv struct {
	engine  *Engine
	ledger  *bank.Ledger
	oracle  *oracle.Adapter
	router  *OracleRouter
	state   *state.Manager
	emitter *captureEmitter
	now     int64
}

func units(n int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{now: 1_700_000_000, emitter: &captureEmitter{}}
	env.state = state.NewManager(storage.NewMemDB())
	reg := access.NewRegistry(env.state)
	require.NoError(t, reg.Bootstrap(ownerAddr))
	require.NoError(t, reg.Grant(ownerAddr, access.RoleKeeper, keeperAddr))
	require.NoError(t, reg.Grant(ownerAddr, access.RoleOracle, reporterAddr))

	env.ledger = bank.NewLedger(env.state, reg, nil, 1)
	require.NoError(t, env.ledger.RegisterToken(ownerAddr, usdxToken, "USDX", 6))
	require.NoError(t, env.ledger.RegisterToken(ownerAddr, wethToken, "WETH", 18))
	require.NoError(t, env.ledger.RegisterToken(ownerAddr, refToken, "REF", 18))
	require.NoError(t, env.ledger.RegisterToken(ownerAddr, oddToken, "ODD", 18))
	require.NoError(t, env.ledger.RegisterToken(ownerAddr, idleToken, "IDLE", 18))

	env.oracle = oracle.NewAdapter(env.state, reg)
	feeds := map[common.Address]struct {
		feed  string
		price int64
	}{
		bank.NativeToken: {"spn/usd", 2000_0000_0000},
		usdxToken:        {"usdx/usd", 1_0000_0000},
		wethToken:        {"weth/usd", 2000_0000_0000},
		refToken:         {"ref/usd", 5000_0000},
		oddToken:         {"odd/usd", 1_0000_0000},
		idleToken:        {"idle/usd", 1_0000_0000},
	}
	for token, f := range feeds {
		require.NoError(t, env.oracle.SetTokenPriceFeed(ownerAddr, token, f.feed))
		require.NoError(t, env.oracle.Publish(reporterAddr, f.feed, big.NewInt(f.price), 8, env.now))
	}

	env.router = NewOracleRouter(env.ledger, env.oracle, liquidity, 30)
	env.router.SetNowFunc(func() int64 { return env.now })

	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetBank(env.ledger)
	env.engine.SetPriceSource(env.oracle)
	env.engine.SetRoles(reg)
	env.engine.SetRouter(env.router)
	env.engine.SetEmitter(env.emitter)
	env.engine.SetNowFunc(func() int64 { return env.now })
	require.NoError(t, env.engine.SetReference(ownerAddr, refToken, wethToken))
	require.NoError(t, env.engine.SetBuybackEnabled(ownerAddr, true))

	treasury := env.engine.Account()
	require.NoError(t, env.ledger.Mint(ownerAddr, usdxToken, treasury, units(100, 6)))
	require.NoError(t, env.ledger.Mint(ownerAddr, bank.NativeToken, treasury, units(1, 18)))
	require.NoError(t, env.ledger.Mint(ownerAddr, oddToken, treasury, units(50, 18)))
	require.NoError(t, env.ledger.Mint(ownerAddr, refToken, liquidity, units(1_000_000, 18)))
	require.NoError(t, env.ledger.Mint(ownerAddr, wethToken, liquidity, units(1_000, 18)))
	return env
}

func TestCheckUpsideCountsDuplicates(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.SetThreshold(ownerAddr, oracle.USD(150)))

	once, err := env.engine.CheckUpside([]common.Address{usdxToken}, false)
	require.NoError(t, err)
	require.Equal(t, 0, once.TotalUSD.Cmp(oracle.USD(100)))
	require.False(t, once.Triggerable)

	twice, err := env.engine.CheckUpside([]common.Address{usdxToken, usdxToken}, false)
	require.NoError(t, err)
	require.Equal(t, 0, twice.TotalUSD.Cmp(new(big.Int).Mul(once.TotalUSD, big.NewInt(2))),
		"a repeated token must contribute exactly twice")
	require.True(t, twice.Triggerable)

	withNative, err := env.engine.CheckUpside([]common.Address{usdxToken}, true)
	require.NoError(t, err)
	require.Equal(t, 0, withNative.TotalUSD.Cmp(oracle.USD(2_100)))

	require.NoError(t, env.engine.SetBuybackEnabled(ownerAddr, false))
	disabled, err := env.engine.CheckUpside([]common.Address{usdxToken, usdxToken}, true)
	require.NoError(t, err)
	require.False(t, disabled.Triggerable)
	require.False(t, disabled.Enabled)
}

func TestCheckUpsideRejectsStalePrice(t *testing.T) {
	env := newTestEnv(t)
	env.now += int64(oracle.DefaultHeartbeat)
	_, err := env.engine.CheckUpside([]common.Address{usdxToken}, false)
	require.ErrorIs(t, err, oracle.ErrStale)

	// Empty balances are not priced.
	_, err = env.engine.CheckUpside([]common.Address{idleToken}, false)
	require.NoError(t, err)
}

func TestExecuteBuybackIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.SetTokenSupported(ownerAddr, usdxToken, true))
	require.NoError(t, env.engine.SetTokenSupported(ownerAddr, idleToken, true))
	require.NoError(t, env.engine.SetTokenSupported(ownerAddr, oddToken, true))
	unsupported := wethToken
	refSupplyBefore, _ := env.ledger.TotalSupply(refToken)

	tokens := []common.Address{usdxToken, unsupported, idleToken, oddToken}
	minOuts := []*big.Int{big.NewInt(0), big.NewInt(0), big.NewInt(0), units(1_000_000, 18)}
	results, err := env.engine.ExecuteBuybackAndBurn(keeperAddr, tokens, minOuts, big.NewInt(0), true)
	require.NoError(t, err)
	require.Len(t, results, 5)

	require.True(t, results[0].Success)
	expectedOut, ok := new(big.Int).SetString("198801800000000000000", 10)
	require.True(t, ok)
	require.Equal(t, 0, results[0].AmountOut.Cmp(expectedOut), "got %s", results[0].AmountOut)
	require.Equal(t, []common.Address{usdxToken, wethToken, refToken}, results[0].Path)

	require.Equal(t, ReasonUnsupportedToken, results[1].Reason)
	require.Equal(t, ReasonZeroBalance, results[2].Reason)
	require.Equal(t, ReasonSlippage, results[3].Reason)
	require.True(t, results[4].Success, "native buyback: %+v", results[4])

	odd, _ := env.ledger.BalanceOf(oddToken, env.engine.Account())
	require.Equal(t, 0, odd.Cmp(units(50, 18)), "failed swap must be rolled back")
	usdx, _ := env.ledger.BalanceOf(usdxToken, env.engine.Account())
	require.Equal(t, 0, usdx.Sign())
	ref, _ := env.ledger.BalanceOf(refToken, env.engine.Account())
	require.Equal(t, 0, ref.Sign(), "bought reference asset must be burned")

	refSupplyAfter, _ := env.ledger.TotalSupply(refToken)
	burned := new(big.Int).Sub(refSupplyBefore, refSupplyAfter)
	require.Equal(t, 0, burned.Cmp(new(big.Int).Add(results[0].AmountOut, results[4].AmountOut)))

	require.Equal(t, 2, env.emitter.count(events.TypeBuybackExecuted))
	require.Equal(t, 3, env.emitter.count(events.TypeBuybackFailed))
}

func TestExecuteBuybackPreconditions(t *testing.T) {
	env := newTestEnv(t)
	tokens := []common.Address{usdxToken}

	_, err := env.engine.ExecuteBuybackAndBurn(common.HexToAddress("0xbad"), tokens, []*big.Int{nil}, nil, false)
	require.ErrorIs(t, err, access.ErrUnauthorized)

	_, err = env.engine.ExecuteBuybackAndBurn(keeperAddr, tokens, nil, nil, false)
	require.ErrorIs(t, err, ErrLengthMismatch)

	require.NoError(t, env.engine.SetBuybackEnabled(ownerAddr, false))
	_, err = env.engine.ExecuteBuybackAndBurn(ownerAddr, tokens, []*big.Int{nil}, nil, false)
	require.ErrorIs(t, err, ErrBuybackDisabled)
}

func TestExecuteBuybackReportsMissingLiquidity(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.engine.SetTokenSupported(ownerAddr, oddToken, true))
	require.NoError(t, env.engine.SetSwapPath(ownerAddr, oddToken, []common.Address{oddToken, refToken}))
	_, err := env.ledger.BalanceOf(refToken, liquidity)
	require.NoError(t, err)
	require.NoError(t, env.ledger.Burn(refToken, liquidity, units(1_000_000, 18)))

	results, err := env.engine.ExecuteBuybackAndBurn(keeperAddr, []common.Address{oddToken}, []*big.Int{nil}, nil, false)
	require.NoError(t, err)
	require.Equal(t, ReasonInsufficientLiquidity, results[0].Reason)
	require.Equal(t, []common.Address{oddToken, refToken}, results[0].Path)
}

func TestSwapPathConfiguration(t *testing.T) {
	env := newTestEnv(t)
	path, err := env.engine.SwapPath(usdxToken)
	require.NoError(t, err)
	require.Equal(t, []common.Address{usdxToken, wethToken, refToken}, path)

	path, err = env.engine.SwapPath(wethToken)
	require.NoError(t, err)
	require.Equal(t, []common.Address{wethToken, refToken}, path)

	err = env.engine.SetSwapPath(ownerAddr, usdxToken, []common.Address{wethToken, refToken})
	require.ErrorIs(t, err, ErrInvalidPath)
	err = env.engine.SetSwapPath(keeperAddr, usdxToken, []common.Address{usdxToken, refToken})
	require.ErrorIs(t, err, access.ErrUnauthorized)

	require.NoError(t, env.engine.SetSwapPath(ownerAddr, usdxToken, []common.Address{usdxToken, refToken}))
	path, _ = env.engine.SwapPath(usdxToken)
	require.Equal(t, []common.Address{usdxToken, refToken}, path)

	require.NoError(t, env.engine.SetSwapPath(ownerAddr, usdxToken, nil))
	path, _ = env.engine.SwapPath(usdxToken)
	require.Len(t, path, 3)
}

func TestSetKeeperAndEmergencyWithdraw(t *testing.T) {
	env := newTestEnv(t)
	newKeeper := common.HexToAddress("0x0e")
	require.ErrorIs(t, env.engine.SetKeeper(keeperAddr, newKeeper, true), access.ErrUnauthorized)
	require.NoError(t, env.engine.SetKeeper(ownerAddr, newKeeper, true))
	_, err := env.engine.ExecuteBuybackAndBurn(newKeeper, nil, nil, nil, false)
	require.NoError(t, err)
	require.NoError(t, env.engine.SetKeeper(ownerAddr, newKeeper, false))
	_, err = env.engine.ExecuteBuybackAndBurn(newKeeper, nil, nil, nil, false)
	require.ErrorIs(t, err, access.ErrUnauthorized)

	rescue := common.HexToAddress("0x0f")
	_, err = env.engine.EmergencyWithdraw(keeperAddr, usdxToken, rescue, nil)
	require.ErrorIs(t, err, access.ErrUnauthorized)
	amount, err := env.engine.EmergencyWithdraw(ownerAddr, usdxToken, rescue, nil)
	require.NoError(t, err)
	require.Equal(t, 0, amount.Cmp(units(100, 6)))
	got, _ := env.ledger.BalanceOf(usdxToken, rescue)
	require.Equal(t, 0, got.Cmp(units(100, 6)))
	require.Equal(t, 1, env.emitter.count(events.TypeTreasuryWithdrawal))

	_, err = env.engine.EmergencyWithdraw(ownerAddr, usdxToken, rescue, nil)
	require.True(t, errors.Is(err, ErrInvalidWithdraw))
}
