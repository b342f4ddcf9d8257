package oracle

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"securepay/core/state"
	"securepay/native/access"
	"securepay/storage"
)

var (
	owner    = common.HexToAddress("0x01")
	reporter = common.HexToAddress("0x02")
	weth     = common.HexToAddress("0x00000000000000000000000000000000000000e1")
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	reg := access.NewRegistry(mgr)
	if err := reg.Bootstrap(owner); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if err := reg.Grant(owner, access.RoleOracle, reporter); err != nil {
		t.Fatalf("grant: %v", err)
	}
	return NewAdapter(mgr, reg)
}

func TestPriceNotConfigured(t *testing.T) {
	adapter := newTestAdapter(t)
	if _, err := adapter.Price(weth, 100); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestPriceStaleness(t *testing.T) {
	adapter := newTestAdapter(t)
	if err := adapter.SetTokenPriceFeed(owner, weth, "ETH/USD"); err != nil {
		t.Fatalf("set feed: %v", err)
	}
	if _, err := adapter.Price(weth, 100); !errors.Is(err, ErrNoRound) {
		t.Fatalf("expected ErrNoRound, got %v", err)
	}
	if err := adapter.Publish(reporter, "eth/usd", big.NewInt(2000_0000_0000), 8, 1_000); err != nil {
		t.Fatalf("publish: %v", err)
	}
	quote, err := adapter.Price(weth, 1_000+int64(DefaultHeartbeat)-1)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if quote.Decimals != 8 || quote.UpdatedAt != 1_000 {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if _, err := adapter.Price(weth, 1_000+int64(DefaultHeartbeat)); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale at heartbeat boundary, got %v", err)
	}

	if err := adapter.SetTokenHeartbeat(owner, weth, 60); err != nil {
		t.Fatalf("set heartbeat: %v", err)
	}
	if _, err := adapter.Price(weth, 1_060); !errors.Is(err, ErrStale) {
		t.Fatalf("expected token heartbeat override to apply, got %v", err)
	}
	if _, err := adapter.Price(weth, 1_059); err != nil {
		t.Fatalf("expected fresh price, got %v", err)
	}
	if err := adapter.SetTokenHeartbeat(owner, weth, 0); err != nil {
		t.Fatalf("reset heartbeat: %v", err)
	}
	if err := adapter.SetDefaultHeartbeat(owner, 10); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if _, err := adapter.Price(weth, 1_010); !errors.Is(err, ErrStale) {
		t.Fatalf("expected default heartbeat to apply, got %v", err)
	}
}

func TestPriceHugeHeartbeatNeverStale(t *testing.T) {
	adapter := newTestAdapter(t)
	if err := adapter.SetTokenPriceFeed(owner, weth, "eth/usd"); err != nil {
		t.Fatalf("set feed: %v", err)
	}
	if err := adapter.Publish(reporter, "eth/usd", big.NewInt(2000_0000_0000), 8, 1_000); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := adapter.SetTokenHeartbeat(owner, weth, math.MaxUint64); err != nil {
		t.Fatalf("set heartbeat: %v", err)
	}
	for _, now := range []int64{1_000, 1_000 + 365*24*3600, math.MaxInt64} {
		if _, err := adapter.Price(weth, now); err != nil {
			t.Fatalf("price at %d: %v", now, err)
		}
	}
	if _, err := adapter.Price(weth, 999); err != nil {
		t.Fatalf("round stamped after now must count as fresh: %v", err)
	}
}

func TestPublishRules(t *testing.T) {
	adapter := newTestAdapter(t)
	if err := adapter.Publish(owner, "eth/usd", big.NewInt(1), 8, 1); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected unauthorized publisher, got %v", err)
	}
	if err := adapter.Publish(reporter, "eth/usd", big.NewInt(0), 8, 1); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if err := adapter.Publish(reporter, "eth/usd", big.NewInt(5), 8, 10); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := adapter.Publish(reporter, "eth/usd", big.NewInt(5), 8, 9); err == nil {
		t.Fatalf("expected older round to be rejected")
	}
}

func TestAdminRequiresOwner(t *testing.T) {
	adapter := newTestAdapter(t)
	if err := adapter.SetTokenPriceFeed(reporter, weth, "eth/usd"); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := adapter.SetTokenHeartbeat(owner, weth, 5); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestUSDConversions(t *testing.T) {
	quote := Quote{Price: big.NewInt(2000_0000_0000), Decimals: 8}
	ten := new(big.Int).Mul(big.NewInt(10), pow10(18))
	if got := USDValue(ten, 18, quote); got.Cmp(USD(20_000)) != 0 {
		t.Fatalf("expected $20000, got %s", got)
	}
	if got := TokenAmount(USD(1), 18, quote); got.Cmp(big.NewInt(500_000_000_000_000)) != 0 {
		t.Fatalf("expected 5e14 wei, got %s", got)
	}
	if got := TokenAmount(USDCents(1), 18, quote); got.Cmp(big.NewInt(5_000_000_000_000)) != 0 {
		t.Fatalf("expected 5e12 wei, got %s", got)
	}
	if USDValue(nil, 18, quote).Sign() != 0 {
		t.Fatalf("nil amount should price to zero")
	}
}
