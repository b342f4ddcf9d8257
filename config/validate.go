package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"securepay/native/bank"
)

// MaxTokenDecimals bounds configured token precision.
const MaxTokenDecimals = 36

// Validate checks that every section parses and is internally consistent.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil config")
	}
	if c.DomainID == 0 {
		return fmt.Errorf("config: DomainID must be positive")
	}
	if _, err := c.OwnerAddress(); err != nil {
		return err
	}
	if _, err := c.KeeperAddresses(); err != nil {
		return err
	}
	if _, err := c.OracleAddresses(); err != nil {
		return err
	}
	seen := make(map[common.Address]struct{}, len(c.Tokens))
	for _, tok := range c.Tokens {
		addr, err := tok.TokenAddress()
		if err != nil {
			return err
		}
		if addr == bank.NativeToken {
			return fmt.Errorf("config: token %s uses the native asset address", tok.Symbol)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("config: token %s listed twice", addr.Hex())
		}
		seen[addr] = struct{}{}
		if strings.TrimSpace(tok.Symbol) == "" {
			return fmt.Errorf("config: token %s missing symbol", addr.Hex())
		}
		if tok.Decimals > MaxTokenDecimals {
			return fmt.Errorf("config: token %s decimals %d exceed %d", tok.Symbol, tok.Decimals, MaxTokenDecimals)
		}
	}
	params, err := c.EscrowParams()
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if c.Oracle.DefaultHeartbeatSeconds == 0 {
		return fmt.Errorf("oracle: DefaultHeartbeatSeconds must be positive")
	}
	if _, err := c.TreasuryThreshold(); err != nil {
		return err
	}
	if _, _, err := c.TreasuryReference(); err != nil {
		return err
	}
	if c.Treasury.SlippageBps >= 10_000 {
		return fmt.Errorf("treasury: SlippageBps must be below 10000")
	}
	if _, _, _, err := c.RewardsSettings(); err != nil {
		return err
	}
	if c.Timelock.GraceSeconds == 0 {
		return fmt.Errorf("timelock: GraceSeconds must be positive")
	}
	if c.API.RequestsPerSecond < 0 || (c.API.RequestsPerSecond > 0 && c.API.Burst <= 0) {
		return fmt.Errorf("api: Burst must be positive when rate limiting is enabled")
	}
	if c.API.Auth.Enabled && strings.TrimSpace(c.API.Auth.HMACSecret) == "" {
		return fmt.Errorf("api.auth: HMACSecret required when auth is enabled")
	}
	return nil
}
