package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"securepay/crypto"
	"securepay/native/oracle"
)

const sampleConfig = `Environment = "test"
DataDir = "./data"
DomainID = 7
Owner = "0x00000000000000000000000000000000000000a1"

[roles]
Keepers = ["0x00000000000000000000000000000000000000a2"]
Oracles = ["0x00000000000000000000000000000000000000a3"]

[[tokens]]
Address = "0x00000000000000000000000000000000000000c1"
Symbol = "USDC"
Decimals = 6
Feed = "USDC/USD"
Buyback = true

[escrow]
FeeBps = 25
FeeFloorUSD = "0.05"
FeeCapUSD = "2.5"
MinTransferUSD = "1"
MaxPendingPerSender = 10
ExpireSeconds = 3600

[treasury]
BuybackEnabled = true
ThresholdUSD = "500"
Reference = "0x00000000000000000000000000000000000000c1"
SlippageBps = 30

[rewards]
Token = "0x00000000000000000000000000000000000000c1"
CheckInUnit = "1000000"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesSections(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DomainID != 7 || cfg.Environment != "test" {
		t.Fatalf("unexpected header %+v", cfg)
	}
	if len(cfg.Tokens) != 1 || cfg.Tokens[0].Decimals != 6 || !cfg.Tokens[0].Buyback {
		t.Fatalf("unexpected tokens %+v", cfg.Tokens)
	}
	params, err := cfg.EscrowParams()
	if err != nil {
		t.Fatalf("escrow params: %v", err)
	}
	if params.FeeBps != 25 || params.FeeFloorUSD.Cmp(oracle.USDCents(5)) != 0 || params.FeeCapUSD.Cmp(oracle.USDCents(250)) != 0 {
		t.Fatalf("unexpected escrow params %+v", params)
	}
	if params.ExpireDuration != 3600 || params.MaxPendingPerSender != 10 {
		t.Fatalf("unexpected limits %+v", params)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Oracle.DefaultHeartbeatSeconds != 3600 || cfg.Timelock.GraceSeconds == 0 {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Oracle, cfg.Timelock)
	}
	keepers, err := cfg.KeeperAddresses()
	if err != nil || len(keepers) != 1 {
		t.Fatalf("keepers: %v %v", keepers, err)
	}
	_, token, unit, err := cfg.RewardsSettings()
	if err != nil || unit.Int64() != 1_000_000 || token != common.HexToAddress("0x00000000000000000000000000000000000000c1") {
		t.Fatalf("rewards: %v %v %v", token, unit, err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, sampleConfig+"\nBogus = 1\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "Bogus") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"floor above cap": strings.Replace(sampleConfig, `FeeFloorUSD = "0.05"`, `FeeFloorUSD = "5"`, 1),
		"bps":             strings.Replace(sampleConfig, "FeeBps = 25", "FeeBps = 20000", 1),
		"owner":           strings.Replace(sampleConfig, `Owner = "0x00000000000000000000000000000000000000a1"`, `Owner = "nope"`, 1),
		"usd precision":   strings.Replace(sampleConfig, `ThresholdUSD = "500"`, `ThresholdUSD = "0.0000000000000000001"`, 1),
		"slippage":        strings.Replace(sampleConfig, "SlippageBps = 30", "SlippageBps = 10000", 1),
		"domain":          strings.Replace(sampleConfig, "DomainID = 7", "DomainID = 0", 1),
		"native token":    strings.Replace(sampleConfig, `Address = "0x00000000000000000000000000000000000000c1"`, `Address = "0x0000000000000000000000000000000000000000"`, 1),
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, contents)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseUSD(t *testing.T) {
	got, err := ParseUSD("0.01")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Cmp(oracle.USDCents(1)) != 0 {
		t.Fatalf("unexpected value %s", got)
	}
	if _, err := ParseUSD("-1"); err == nil {
		t.Fatalf("expected negative amount to fail")
	}
	if v, err := ParseUSD(" "); err != nil || v.Sign() != 0 {
		t.Fatalf("blank should parse as zero: %v %v", v, err)
	}
}

func TestLoadWithoutPassphraseFailsToCreateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when no keystore passphrase is provided")
	}
}

func TestLoadCreatesOwnerKeystore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	passphrase := "strong-passphrase"

	cfg, err := Load(path, WithKeystorePassphrase(passphrase))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	key, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, passphrase)
	if err != nil {
		t.Fatalf("decrypt keystore: %v", err)
	}
	owner, err := cfg.OwnerAddress()
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	if owner != key.Address() {
		t.Fatalf("owner %s does not match keystore %s", owner.Hex(), key.Address().Hex())
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Owner != cfg.Owner || reloaded.Escrow.FeeBps != cfg.Escrow.FeeBps {
		t.Fatalf("persisted config differs: %+v", reloaded)
	}
}
