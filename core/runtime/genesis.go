package runtime

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"securepay/config"
	"securepay/native/access"
	"securepay/native/bank"
)

// genesis bootstraps roles, assets and protocol parameters from cfg. It runs
// inside apply, so any failure leaves the database empty.
func (r *Runtime) genesis(cfg *config.Config) error {
	owner, err := cfg.OwnerAddress()
	if err != nil {
		return err
	}
	if err := r.access.Bootstrap(owner); err != nil {
		return err
	}
	keepers, err := cfg.KeeperAddresses()
	if err != nil {
		return err
	}
	for _, keeper := range keepers {
		if err := r.access.Grant(owner, access.RoleKeeper, keeper); err != nil {
			return err
		}
	}
	oracles, err := cfg.OracleAddresses()
	if err != nil {
		return err
	}
	for _, publisher := range oracles {
		if err := r.access.Grant(owner, access.RoleOracle, publisher); err != nil {
			return err
		}
	}

	if feed := strings.TrimSpace(cfg.Oracle.NativeFeed); feed != "" {
		if err := r.oracle.SetTokenPriceFeed(owner, bank.NativeToken, feed); err != nil {
			return err
		}
	}
	if err := r.oracle.SetDefaultHeartbeat(owner, cfg.Oracle.DefaultHeartbeatSeconds); err != nil {
		return err
	}
	for _, tok := range cfg.Tokens {
		addr, err := tok.TokenAddress()
		if err != nil {
			return err
		}
		if err := r.bank.RegisterToken(owner, addr, tok.Symbol, tok.Decimals); err != nil {
			return fmt.Errorf("register %s: %w", tok.Symbol, err)
		}
		if feed := strings.TrimSpace(tok.Feed); feed != "" {
			if err := r.oracle.SetTokenPriceFeed(owner, addr, feed); err != nil {
				return err
			}
		}
		if tok.HeartbeatSeconds > 0 {
			if err := r.oracle.SetTokenHeartbeat(owner, addr, tok.HeartbeatSeconds); err != nil {
				return err
			}
		}
		if tok.Buyback {
			if err := r.treasury.SetTokenSupported(owner, addr, true); err != nil {
				return err
			}
		}
	}

	params, err := cfg.EscrowParams()
	if err != nil {
		return err
	}
	if err := r.escrow.SetParams(owner, params); err != nil {
		return err
	}

	threshold, err := cfg.TreasuryThreshold()
	if err != nil {
		return err
	}
	if err := r.treasury.SetThreshold(owner, threshold); err != nil {
		return err
	}
	reference, bridge, err := cfg.TreasuryReference()
	if err != nil {
		return err
	}
	if reference != (common.Address{}) {
		if err := r.treasury.SetReference(owner, reference, bridge); err != nil {
			return err
		}
	}
	if err := r.treasury.SetBuybackEnabled(owner, cfg.Treasury.BuybackEnabled); err != nil {
		return err
	}

	issuer, token, unit, err := cfg.RewardsSettings()
	if err != nil {
		return err
	}
	if err := r.rewards.SetIssuer(owner, issuer); err != nil {
		return err
	}
	if err := r.rewards.SetRewardToken(owner, token); err != nil {
		return err
	}
	return r.rewards.SetCheckInUnit(owner, unit)
}
