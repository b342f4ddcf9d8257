// Package runtimetest builds a runtime over an in-memory database with a
// deterministic clock for tests of packages that sit on top of it.
package runtimetest

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"securepay/config"
	"securepay/core/events"
	"securepay/core/runtime"
	"securepay/crypto"
	"securepay/native/bank"
	"securepay/storage"
)

// Well-known fixture accounts and assets.
var (
	Keeper    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	Publisher = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	Alice     = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	Bob       = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	USDC      = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	WETH      = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	REF       = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

// Start is the fixture's initial clock: midday of a UTC day.
const Start = int64(19_000*86_400 + 43_200)

// Recorder collects committed events.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

// Emit implements events.Emitter.
func (r *Recorder) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// Types returns the event type of every recorded event.
func (r *Recorder) Types() []string {
	evts := r.Events()
	out := make([]string, len(evts))
	for i, evt := range evts {
		out[i] = evt.EventType()
	}
	return out
}

// Fixture bundles a runtime with its owner key, clock and event recorder.
type Fixture struct {
	Runtime  *runtime.Runtime
	DB       *storage.MemDB
	Config   *config.Config
	OwnerKey *crypto.PrivateKey
	Owner    common.Address
	Events   *Recorder

	mu  sync.Mutex
	now int64
}

// Config returns the fixture configuration for owner.
func Config(owner common.Address) *config.Config {
	cfg := config.Default()
	cfg.Owner = owner.Hex()
	cfg.Roles.Keepers = []string{Keeper.Hex()}
	cfg.Roles.Oracles = []string{Publisher.Hex()}
	cfg.Oracle.NativeFeed = "SPN/USD"
	cfg.Tokens = []config.Token{
		{Address: USDC.Hex(), Symbol: "USDC", Decimals: 6, Feed: "USDC/USD", Buyback: true},
		{Address: WETH.Hex(), Symbol: "WETH", Decimals: 18, Feed: "ETH/USD", Buyback: true},
		{Address: REF.Hex(), Symbol: "REF", Decimals: 18, Feed: "REF/USD"},
	}
	cfg.Treasury.BuybackEnabled = true
	cfg.Treasury.ThresholdUSD = "100"
	cfg.Treasury.Reference = REF.Hex()
	cfg.Treasury.SlippageBps = 0
	cfg.Rewards.CheckInUnit = "1000"
	cfg.Timelock.DelaySeconds = 100
	cfg.Timelock.GraceSeconds = 1_000
	return cfg
}

// New builds a fixture and publishes $1 USDC, $2000 ETH, $2 REF and $0.50 SPN
// prices at Start. Extra sinks receive every committed event after the
// fixture's recorder.
func New(t testing.TB, sinks ...events.Emitter) *Fixture {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate owner key: %v", err)
	}
	f := &Fixture{
		DB:       storage.NewMemDB(),
		OwnerKey: key,
		Owner:    key.Address(),
		Events:   &Recorder{},
		now:      Start,
	}
	f.Config = Config(f.Owner)
	rt, err := runtime.New(f.DB, f.Config,
		runtime.WithEmitter(events.Fanout(append([]events.Emitter{f.Events}, sinks...))),
		runtime.WithNowFunc(f.Now))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	f.Runtime = rt
	f.PublishAll(t)
	return f
}

// Now returns the fixture clock.
func (f *Fixture) Now() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by seconds.
func (f *Fixture) Advance(seconds int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += seconds
}

// PublishAll refreshes every fixture feed at the current clock.
func (f *Fixture) PublishAll(t testing.TB) {
	t.Helper()
	prices := []struct {
		feed  string
		price int64
	}{
		{"USDC/USD", 100_000_000},
		{"ETH/USD", 200_000_000_000},
		{"REF/USD", 200_000_000},
		{"SPN/USD", 50_000_000},
	}
	for _, p := range prices {
		if err := f.Runtime.PublishPrice(Publisher, p.feed, big.NewInt(p.price), 8, f.Now()); err != nil {
			t.Fatalf("publish %s: %v", p.feed, err)
		}
	}
}

// MaxAllowance is the allowance Fund grants the escrow vault.
var MaxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Fund mints amount of token to account. For non-native tokens it also grants
// the escrow vault an unlimited allowance, the way a wallet would before its
// first secured transfer.
func (f *Fixture) Fund(t testing.TB, token, account common.Address, amount *big.Int) {
	t.Helper()
	if err := f.Runtime.Mint(f.Owner, token, account, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if token != bank.NativeToken {
		f.Approve(t, token, account, MaxAllowance)
	}
}

// Approve sets account's allowance for the escrow vault.
func (f *Fixture) Approve(t testing.TB, token, account common.Address, amount *big.Int) {
	t.Helper()
	if err := f.Runtime.Approve(account, token, f.Runtime.EscrowVault(), amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

// Balance reads account's balance of token.
func (f *Fixture) Balance(t testing.TB, token, account common.Address) *big.Int {
	t.Helper()
	bal, err := f.Runtime.BalanceOf(token, account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}
