package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"securepay/crypto"
	"securepay/native/escrow"
	"securepay/native/oracle"
)

// ParseUSD converts a decimal dollar string into oracle.USDDecimals fixed
// point. More than 18 fractional digits is an error rather than a silent
// truncation.
func ParseUSD(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid USD amount %q: %w", raw, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("USD amount %q must not be negative", raw)
	}
	scaled := d.Shift(int32(oracle.USDDecimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("USD amount %q has more than %d decimals", raw, oracle.USDDecimals)
	}
	return scaled.BigInt(), nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

func parseOptionalAddress(raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return crypto.ParseAddress(raw)
}

func parseAddresses(raw []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(raw))
	for _, entry := range raw {
		addr, err := crypto.ParseAddress(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// OwnerAddress parses the configured owner.
func (c *Config) OwnerAddress() (common.Address, error) {
	addr, err := crypto.ParseAddress(c.Owner)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid Owner: %w", err)
	}
	return addr, nil
}

// KeeperAddresses parses roles.Keepers.
func (c *Config) KeeperAddresses() ([]common.Address, error) {
	addrs, err := parseAddresses(c.Roles.Keepers)
	if err != nil {
		return nil, fmt.Errorf("invalid roles.Keepers: %w", err)
	}
	return addrs, nil
}

// OracleAddresses parses roles.Oracles.
func (c *Config) OracleAddresses() ([]common.Address, error) {
	addrs, err := parseAddresses(c.Roles.Oracles)
	if err != nil {
		return nil, fmt.Errorf("invalid roles.Oracles: %w", err)
	}
	return addrs, nil
}

// EscrowParams converts the escrow section into engine parameters.
func (c *Config) EscrowParams() (escrow.Params, error) {
	return c.Escrow.Params()
}

// Params converts the section into engine parameters. The timelocked
// escrow.params action decodes its JSON payload into Escrow and reuses this.
func (e Escrow) Params() (escrow.Params, error) {
	floor, err := ParseUSD(e.FeeFloorUSD)
	if err != nil {
		return escrow.Params{}, fmt.Errorf("invalid escrow.FeeFloorUSD: %w", err)
	}
	capUSD, err := ParseUSD(e.FeeCapUSD)
	if err != nil {
		return escrow.Params{}, fmt.Errorf("invalid escrow.FeeCapUSD: %w", err)
	}
	minUSD, err := ParseUSD(e.MinTransferUSD)
	if err != nil {
		return escrow.Params{}, fmt.Errorf("invalid escrow.MinTransferUSD: %w", err)
	}
	return escrow.Params{
		FeeBps:              e.FeeBps,
		FeeFloorUSD:         floor,
		FeeCapUSD:           capUSD,
		MinTransferUSD:      minUSD,
		MaxPendingPerSender: uint64(e.MaxPendingPerSender),
		ExpireDuration:      e.ExpireSeconds,
	}, nil
}

// TreasuryThreshold parses treasury.ThresholdUSD.
func (c *Config) TreasuryThreshold() (*big.Int, error) {
	v, err := ParseUSD(c.Treasury.ThresholdUSD)
	if err != nil {
		return nil, fmt.Errorf("invalid treasury.ThresholdUSD: %w", err)
	}
	return v, nil
}

// TreasuryReference parses the buyback reference and bridge assets.
func (c *Config) TreasuryReference() (reference, bridge common.Address, err error) {
	reference, err = parseOptionalAddress(c.Treasury.Reference)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid treasury.Reference: %w", err)
	}
	bridge, err = parseOptionalAddress(c.Treasury.Bridge)
	if err != nil {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid treasury.Bridge: %w", err)
	}
	return reference, bridge, nil
}

// RewardsSettings parses the rewards section.
func (c *Config) RewardsSettings() (issuer, token common.Address, unit *big.Int, err error) {
	issuer, err = parseOptionalAddress(c.Rewards.Issuer)
	if err != nil {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("invalid rewards.Issuer: %w", err)
	}
	token, err = parseOptionalAddress(c.Rewards.Token)
	if err != nil {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("invalid rewards.Token: %w", err)
	}
	unit, err = parseAmount(c.Rewards.CheckInUnit)
	if err != nil {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("invalid rewards.CheckInUnit: %w", err)
	}
	return issuer, token, unit, nil
}

// TokenAddress parses the address of a configured token.
func (t Token) TokenAddress() (common.Address, error) {
	addr, err := crypto.ParseAddress(t.Address)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid token %s address: %w", t.Symbol, err)
	}
	return addr, nil
}
