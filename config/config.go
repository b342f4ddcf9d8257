package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"securepay/crypto"
)

// Config is the node configuration persisted as TOML.
type Config struct {
	Environment       string    `toml:"Environment"`
	DataDir           string    `toml:"DataDir"`
	DomainID          uint64    `toml:"DomainID"`
	OwnerKeystorePath string    `toml:"OwnerKeystorePath"`
	Owner             string    `toml:"Owner"`
	Roles             Roles     `toml:"roles"`
	Tokens            []Token   `toml:"tokens"`
	Escrow            Escrow    `toml:"escrow"`
	Oracle            Oracle    `toml:"oracle"`
	Treasury          Treasury  `toml:"treasury"`
	Rewards           Rewards   `toml:"rewards"`
	Timelock          Timelock  `toml:"timelock"`
	API               API       `toml:"api"`
	Telemetry         Telemetry `toml:"telemetry"`
}

type loadOptions struct {
	passphrase    string
	hasPassphrase bool
}

// Option customises Load.
type Option func(*loadOptions)

// WithKeystorePassphrase supplies the passphrase used when Load has to create
// the owner keystore.
func WithKeystorePassphrase(passphrase string) Option {
	return func(o *loadOptions) {
		o.passphrase = passphrase
		o.hasPassphrase = true
	}
}

var errMissingPassphrase = errors.New("config: keystore passphrase required to create owner key")

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration whose owner key is generated into an
// encrypted keystore next to it.
func Load(path string, opts ...Option) (*Config, error) {
	options := loadOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q in %s", undecoded[0].String(), path)
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written by Load for a fresh node. Owner is
// left empty.
func Default() *Config {
	return &Config{
		Environment: "dev",
		DataDir:     "./securepay-data",
		DomainID:    31337,
		Roles:       Roles{Keepers: []string{}, Oracles: []string{}},
		Tokens:      []Token{},
		Escrow: Escrow{
			FeeBps:              10,
			FeeFloorUSD:         "0.01",
			FeeCapUSD:           "1",
			MinTransferUSD:      "1",
			MaxPendingPerSender: 50,
			ExpireSeconds:       7 * 86_400,
		},
		Oracle: Oracle{DefaultHeartbeatSeconds: 3_600},
		Treasury: Treasury{
			BuybackEnabled: false,
			ThresholdUSD:   "1000",
			SlippageBps:    50,
		},
		Rewards:  Rewards{CheckInUnit: "0"},
		Timelock: Timelock{DelaySeconds: 2 * 86_400, GraceSeconds: 14 * 86_400},
		API: API{
			ListenAddress:     ":8080",
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string, options loadOptions) (*Config, error) {
	if !options.hasPassphrase {
		return nil, errMissingPassphrase
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, options.passphrase); err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.OwnerKeystorePath = keystorePath
	cfg.Owner = crypto.DisplayAddress(key.Address())

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
