package rewards

import (
	"bytes"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"securepay/core/events"
	"securepay/core/state"
	"securepay/crypto"
	"securepay/native/access"
	"securepay/native/bank"
	"securepay/native/escrow"
	"securepay/observability/logging"
	"securepay/storage"
)

var (
	ownerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	aliceAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	rewardToken = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	unit        = big.NewInt(1_000)
)

type stubCounters struct {
	daily map[uint64]uint64
	total uint64
}

func (s *stubCounters) TransferCount(_ common.Address, day uint64) (uint64, error) {
	return s.daily[day], nil
}

func (s *stubCounters) TotalTransferCount(common.Address) (uint64, error) {
	return s.total, nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

type testEnv struct {
	engine   *Engine
	ledger   *bank.Ledger
	counters *stubCounters
	emitter  *captureEmitter
	now      int64
}

const dayZero = int64(19_000) * escrow.SecondsPerDay

func newTestEnv(t *testing.T, pool int64) *testEnv {
	t.Helper()
	env := &testEnv{
		now:      dayZero + 3_600,
		counters: &stubCounters{daily: map[uint64]uint64{}},
		emitter:  &captureEmitter{},
	}
	mgr := state.NewManager(storage.NewMemDB())
	reg := access.NewRegistry(mgr)
	if err := reg.Bootstrap(ownerAddr); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	env.ledger = bank.NewLedger(mgr, reg, nil, 1)
	if err := env.ledger.RegisterToken(ownerAddr, rewardToken, "RWD", 18); err != nil {
		t.Fatalf("register: %v", err)
	}
	env.engine = NewEngine(31337)
	env.engine.SetState(mgr)
	env.engine.SetBank(env.ledger)
	env.engine.SetCounters(env.counters)
	env.engine.SetAuthorizer(reg)
	env.engine.SetVerifier(crypto.EthVerifier{})
	env.engine.SetEmitter(env.emitter)
	env.engine.SetNowFunc(func() int64 { return env.now })
	if err := env.engine.SetRewardToken(ownerAddr, rewardToken); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if err := env.engine.SetCheckInUnit(ownerAddr, unit); err != nil {
		t.Fatalf("set unit: %v", err)
	}
	if pool > 0 {
		if err := env.ledger.Mint(ownerAddr, rewardToken, ownerAddr, big.NewInt(pool)); err != nil {
			t.Fatalf("mint: %v", err)
		}
		if err := env.engine.FundPool(ownerAddr, big.NewInt(pool)); err != nil {
			t.Fatalf("fund: %v", err)
		}
	}
	return env
}

func (env *testEnv) advanceDays(n int64) {
	env.now += n * escrow.SecondsPerDay
}

func (env *testEnv) balance(t *testing.T, account common.Address) int64 {
	t.Helper()
	bal, err := env.ledger.BalanceOf(rewardToken, account)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func TestCheckInStreak(t *testing.T) {
	env := newTestEnv(t, 1_000_000)

	steps := []struct {
		advance int64
		streak  uint64
		err     error
	}{
		{0, 1, nil},
		{0, 0, ErrAlreadyCheckedIn},
		{1, 2, nil},
		{2, 1, nil},
		{1, 2, nil},
	}
	for i, step := range steps {
		env.advanceDays(step.advance)
		got, reward, err := env.engine.CheckIn(aliceAddr)
		if !errors.Is(err, step.err) {
			t.Fatalf("step %d: expected %v, got %v", i, step.err, err)
		}
		if err != nil {
			continue
		}
		if got.Streak != step.streak {
			t.Fatalf("step %d: streak %d, want %d", i, got.Streak, step.streak)
		}
		if reward.Cmp(new(big.Int).Mul(unit, new(big.Int).SetUint64(step.streak))) != 0 {
			t.Fatalf("step %d: reward %s", i, reward)
		}
	}
	ci, ok, err := env.engine.GetCheckIn(aliceAddr)
	if err != nil || !ok || ci.Streak != 2 || ci.LastCheckInTime != env.now {
		t.Fatalf("unexpected check-in %+v ok=%v err=%v", ci, ok, err)
	}
	if got := env.balance(t, aliceAddr); got != 6_000 {
		t.Fatalf("expected 6000 paid, got %d", got)
	}
}

func TestCheckInAcrossMidnight(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	env.now = dayZero + escrow.SecondsPerDay - 1
	if _, _, err := env.engine.CheckIn(aliceAddr); err != nil {
		t.Fatalf("first: %v", err)
	}
	env.now = dayZero + escrow.SecondsPerDay
	got, _, err := env.engine.CheckIn(aliceAddr)
	if err != nil {
		t.Fatalf("next day: %v", err)
	}
	if got.Streak != 2 {
		t.Fatalf("one second across midnight should extend the streak, got %d", got.Streak)
	}
}

func TestCheckInRewardCapsAtSevenUnits(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	var last *big.Int
	for day := 0; day < 9; day++ {
		_, reward, err := env.engine.CheckIn(aliceAddr)
		if err != nil {
			t.Fatalf("day %d: %v", day, err)
		}
		last = reward
		env.advanceDays(1)
	}
	if last.Cmp(new(big.Int).Mul(unit, big.NewInt(MaxStreakMultiplier))) != 0 {
		t.Fatalf("expected capped reward, got %s", last)
	}
}

func TestCheckInFailsOnEmptyPool(t *testing.T) {
	env := newTestEnv(t, 0)
	if _, _, err := env.engine.CheckIn(aliceAddr); !errors.Is(err, ErrInsufficientPool) {
		t.Fatalf("expected ErrInsufficientPool, got %v", err)
	}
	if _, seen, _ := env.engine.GetCheckIn(aliceAddr); seen {
		t.Fatalf("failed check-in must not be recorded")
	}
}

func TestTaskAdministration(t *testing.T) {
	env := newTestEnv(t, 0)
	if _, err := env.engine.AddTask(aliceAddr, 1, big.NewInt(5), TaskDaily); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := env.engine.AddTask(ownerAddr, 0, big.NewInt(5), TaskDaily); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask, got %v", err)
	}
	first, err := env.engine.AddTask(ownerAddr, 1, big.NewInt(5), TaskDaily)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	second, err := env.engine.AddTask(ownerAddr, 10, big.NewInt(50), TaskCumulative)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if first == second {
		t.Fatalf("task ids must be unique")
	}
	if err := env.engine.RemoveTask(ownerAddr, first); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := env.engine.RemoveTask(ownerAddr, first); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	tasks, err := env.engine.Tasks()
	if err != nil || len(tasks) != 1 || tasks[0].ID != second || tasks[0].Type != TaskCumulative {
		t.Fatalf("unexpected tasks %+v err=%v", tasks, err)
	}
}

func TestDailyTaskResetsAtDayBoundary(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	id, err := env.engine.AddTask(ownerAddr, 2, big.NewInt(100), TaskDaily)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	today := escrow.Day(env.now)
	env.counters.daily[today] = 1
	if _, err := env.engine.ClaimTaskReward(aliceAddr, id); !errors.Is(err, ErrTaskIncomplete) {
		t.Fatalf("expected ErrTaskIncomplete, got %v", err)
	}
	env.counters.daily[today] = 2
	progress, err := env.engine.GetTaskProgress(aliceAddr, id)
	if err != nil || !progress.Completed || progress.Actual != 2 {
		t.Fatalf("unexpected progress %+v err=%v", progress, err)
	}
	if _, err := env.engine.ClaimTaskReward(aliceAddr, id); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.engine.ClaimTaskReward(aliceAddr, id); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}

	env.advanceDays(1)
	progress, _ = env.engine.GetTaskProgress(aliceAddr, id)
	if progress.Completed || progress.Actual != 0 {
		t.Fatalf("daily progress should reset, got %+v", progress)
	}
	env.counters.daily[today+1] = 2
	if _, err := env.engine.ClaimTaskReward(aliceAddr, id); err != nil {
		t.Fatalf("claim next day: %v", err)
	}
	if got := env.balance(t, aliceAddr); got != 200 {
		t.Fatalf("expected 200 paid, got %d", got)
	}
}

func TestCumulativeTaskReadsTotal(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	id, _ := env.engine.AddTask(ownerAddr, 3, big.NewInt(100), TaskCumulative)
	env.counters.total = 3
	progress, err := env.engine.GetTaskProgress(aliceAddr, id)
	if err != nil || !progress.Completed {
		t.Fatalf("unexpected progress %+v err=%v", progress, err)
	}
	if _, err := env.engine.ClaimTaskReward(aliceAddr, id); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.engine.ClaimTaskReward(aliceAddr, id); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func signClaim(t *testing.T, env *testEnv, key *crypto.PrivateKey, account common.Address, amount *big.Int, nonce [32]byte) []byte {
	t.Helper()
	digest, err := env.engine.ClaimDigest(account, amount, nonce)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	sig, err := crypto.Sign(key, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func TestClaimReward(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	issuer, _ := crypto.GeneratePrivateKey()
	userKey, _ := crypto.GeneratePrivateKey()
	stranger, _ := crypto.GeneratePrivateKey()
	user := userKey.Address()
	if err := env.engine.SetIssuer(ownerAddr, issuer.Address()); err != nil {
		t.Fatalf("set issuer: %v", err)
	}
	amount := big.NewInt(250)
	nonce := crypto.Keccak256([]byte("grant-1"))

	sig := signClaim(t, env, stranger, user, amount, nonce)
	if err := env.engine.ClaimReward(user, amount, nonce, sig); !errors.Is(err, ErrUnauthorizedSigner) {
		t.Fatalf("expected ErrUnauthorizedSigner, got %v", err)
	}
	sig = signClaim(t, env, issuer, user, amount, nonce)
	if err := env.engine.ClaimReward(user, big.NewInt(500), nonce, sig); !errors.Is(err, ErrUnauthorizedSigner) {
		t.Fatalf("expected tampered amount to fail, got %v", err)
	}
	if err := env.engine.ClaimReward(user, amount, nonce, sig); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := env.engine.ClaimReward(user, amount, nonce, sig); !errors.Is(err, ErrNonceUsed) {
		t.Fatalf("expected ErrNonceUsed, got %v", err)
	}

	selfNonce := crypto.Keccak256([]byte("grant-2"))
	selfSig := signClaim(t, env, userKey, user, amount, selfNonce)
	if err := env.engine.ClaimReward(user, amount, selfNonce, selfSig); err != nil {
		t.Fatalf("self-signed claim: %v", err)
	}
	if got := env.balance(t, user); got != 500 {
		t.Fatalf("expected 500 paid, got %d", got)
	}
	var claims []events.RewardClaimed
	for _, evt := range env.emitter.events {
		if c, ok := evt.(events.RewardClaimed); ok {
			claims = append(claims, c)
		}
	}
	if len(claims) != 2 || claims[0].SelfSigned || !claims[1].SelfSigned {
		t.Fatalf("unexpected claim events %+v", claims)
	}
}

func TestClaimDigestBindsDomain(t *testing.T) {
	nonce := crypto.Keccak256([]byte("n"))
	a, err := ClaimDigest(aliceAddr, big.NewInt(1), nonce, 1, ownerAddr)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	b, _ := ClaimDigest(aliceAddr, big.NewInt(1), nonce, 2, ownerAddr)
	c, _ := ClaimDigest(aliceAddr, big.NewInt(1), nonce, 1, aliceAddr)
	if a == b || a == c {
		t.Fatalf("digest must depend on domain and contract identity")
	}
}

func TestGrantNonceCannotBlockTaskClaim(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	issuer, _ := crypto.GeneratePrivateKey()
	if err := env.engine.SetIssuer(ownerAddr, issuer.Address()); err != nil {
		t.Fatalf("set issuer: %v", err)
	}
	id, err := env.engine.AddTask(ownerAddr, 1, big.NewInt(100), TaskDaily)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	today := escrow.Day(env.now)
	env.counters.daily[today] = 1

	idWord := crypto.Uint64Word(id)
	dayWord := crypto.Uint64Word(today)
	nonce := crypto.Keccak256([]byte("task"), idWord[:], dayWord[:])
	sig := signClaim(t, env, issuer, aliceAddr, big.NewInt(7), nonce)
	if err := env.engine.ClaimReward(aliceAddr, big.NewInt(7), nonce, sig); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if claimed, err := env.engine.IsTaskClaimed(aliceAddr, id, today); err != nil || claimed {
		t.Fatalf("grant must not mark the task claimed (claimed=%v err=%v)", claimed, err)
	}
	if _, err := env.engine.ClaimTaskReward(aliceAddr, id); err != nil {
		t.Fatalf("task claim after grant: %v", err)
	}
	if claimed, _ := env.engine.IsTaskClaimed(aliceAddr, id, today); !claimed {
		t.Fatalf("expected task claimed")
	}

	other := crypto.Keccak256([]byte("grant-after-task"))
	if used, _ := env.engine.IsNonceUsed(aliceAddr, other); used {
		t.Fatalf("task claim consumed an unrelated grant nonce")
	}
	if got := env.balance(t, aliceAddr); got != 107 {
		t.Fatalf("expected 107 paid, got %d", got)
	}
}

func TestSelfSignedClaimLogMasksSignature(t *testing.T) {
	env := newTestEnv(t, 1_000_000)
	var buf bytes.Buffer
	env.engine.SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	userKey, _ := crypto.GeneratePrivateKey()
	user := userKey.Address()
	nonce := crypto.Keccak256([]byte("self"))
	sig := signClaim(t, env, userKey, user, big.NewInt(10), nonce)
	if err := env.engine.ClaimReward(user, big.NewInt(10), nonce, sig); err != nil {
		t.Fatalf("claim: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "rewards self-signed claim accepted") {
		t.Fatalf("expected warning, got %q", out)
	}
	if strings.Contains(out, hex.EncodeToString(sig)) {
		t.Fatalf("signature leaked into log: %s", out)
	}
	if !strings.Contains(out, logging.RedactedValue) {
		t.Fatalf("expected redacted signature, got %s", out)
	}
}
