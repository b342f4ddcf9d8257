package keeper

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for the keeper loop.
type Config struct {
	DatabasePath string        `yaml:"database"`
	Keeper       string        `yaml:"keeper"`
	Interval     Duration      `yaml:"interval"`
	Expiry       ExpiryConfig  `yaml:"expiry"`
	Buyback      BuybackConfig `yaml:"buyback"`
}

// ExpiryConfig tunes the sweep of stale secured transfers.
type ExpiryConfig struct {
	TTL       Duration `yaml:"ttl"`
	BatchSize int      `yaml:"batch_size"`
	MaxBatch  int      `yaml:"max_per_tick"`
}

// BuybackConfig selects the assets the keeper values and converts.
type BuybackConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Tokens        []string `yaml:"tokens"`
	IncludeNative bool     `yaml:"include_native"`
	ToleranceBps  uint32   `yaml:"tolerance_bps"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Interval.Duration == 0 {
		cfg.Interval.Duration = time.Minute
	}
	if cfg.Expiry.TTL.Duration == 0 {
		cfg.Expiry.TTL.Duration = 7 * 24 * time.Hour
	}
	if cfg.Expiry.BatchSize <= 0 {
		cfg.Expiry.BatchSize = 50
	}
	if cfg.Expiry.MaxBatch <= 0 {
		cfg.Expiry.MaxBatch = 500
	}
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return errors.New("keeper: database path required")
	}
	if _, err := c.KeeperAddress(); err != nil {
		return err
	}
	if c.Interval.Duration <= 0 {
		return errors.New("keeper: interval must be positive")
	}
	if c.Expiry.BatchSize > c.Expiry.MaxBatch {
		return fmt.Errorf("keeper: batch size %d exceeds max per tick %d", c.Expiry.BatchSize, c.Expiry.MaxBatch)
	}
	if c.Buyback.ToleranceBps >= 10_000 {
		return fmt.Errorf("keeper: tolerance %d bps must be below 10000", c.Buyback.ToleranceBps)
	}
	if _, err := c.BuybackTokens(); err != nil {
		return err
	}
	return nil
}

// KeeperAddress parses the account the keeper submits commands as.
func (c Config) KeeperAddress() (common.Address, error) {
	raw := strings.TrimSpace(c.Keeper)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("keeper: invalid keeper address %q", c.Keeper)
	}
	addr := common.HexToAddress(raw)
	if addr == (common.Address{}) {
		return common.Address{}, errors.New("keeper: keeper address must not be zero")
	}
	return addr, nil
}

// BuybackTokens parses the configured token list, dropping duplicates.
func (c Config) BuybackTokens() ([]common.Address, error) {
	seen := make(map[common.Address]struct{}, len(c.Buyback.Tokens))
	out := make([]common.Address, 0, len(c.Buyback.Tokens))
	for _, raw := range c.Buyback.Tokens {
		trimmed := strings.TrimSpace(raw)
		if !common.IsHexAddress(trimmed) {
			return nil, fmt.Errorf("keeper: invalid buyback token %q", raw)
		}
		addr := common.HexToAddress(trimmed)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}
