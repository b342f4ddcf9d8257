package escrow

import (
	"bytes"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"securepay/crypto"
	"securepay/native/bank"
	"securepay/observability/logging"
)

func TestInitiateWithPermit(t *testing.T) {
	env := newTestEnv(t)
	env.ledger = bank.NewLedger(env.state, env.access, crypto.EthVerifier{}, 1)
	env.engine.SetBank(env.ledger)
	var logs bytes.Buffer
	env.engine.SetLogger(slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	signer := key.Address()
	if err := env.ledger.Mint(ownerAddr, usdxToken, signer, big.NewInt(500_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	amount := big.NewInt(100_000_000)
	quote, err := env.engine.QuoteFee(usdxToken, amount)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	value := new(big.Int).Add(amount, quote.Fee)
	deadline := env.now + 600
	digest, err := env.ledger.PermitDigest(usdxToken, signer, env.engine.Vault(), value, 0, deadline)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	sig, err := crypto.Sign(key, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := env.engine.InitiateWithPermit(signer, bank.NativeToken, bobAddr, amount, value, deadline, sig); !errors.Is(err, ErrPermitUnsupported) {
		t.Fatalf("expected ErrPermitUnsupported, got %v", err)
	}
	if _, err := env.engine.InitiateWithPermit(aliceAddr, usdxToken, bobAddr, amount, value, deadline, sig); !errors.Is(err, bank.ErrPermitSignerMismatch) {
		t.Fatalf("expected signer mismatch, got %v", err)
	}
	id, err := env.engine.InitiateWithPermit(signer, usdxToken, bobAddr, amount, value, deadline, sig)
	if err != nil {
		t.Fatalf("initiate with permit: %v", err)
	}
	rec, _ := env.engine.GetTransfer(id)
	if rec.TotalAmount.Cmp(value) != 0 {
		t.Fatalf("locked %s, permit covered %s", rec.TotalAmount, value)
	}
	remaining, _ := env.ledger.Allowance(usdxToken, signer, env.engine.Vault())
	if remaining.Sign() != 0 {
		t.Fatalf("expected permit allowance to be consumed, %s left", remaining)
	}
	if bytes.Contains(logs.Bytes(), []byte(hex.EncodeToString(sig))) {
		t.Fatalf("permit signature leaked into log: %s", logs.String())
	}
	if !bytes.Contains(logs.Bytes(), []byte(logging.RedactedValue)) {
		t.Fatalf("expected masked permit signature in %s", logs.String())
	}
}
