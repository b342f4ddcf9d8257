package runtime

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"securepay/config"
	"securepay/crypto"
	"securepay/native/escrow"
	"securepay/native/timelock"
)

// Timelocked actions. Payloads are JSON documents.
const (
	// ActionEscrowParams replaces the escrow parameters. Payload: the fields
	// of config.Escrow, e.g. {"FeeBps":20,"FeeFloorUSD":"0.02",...}.
	ActionEscrowParams = "escrow.params"
	// ActionTreasuryThreshold sets the buyback threshold. Payload:
	// {"ThresholdUSD":"2500"}.
	ActionTreasuryThreshold = "treasury.threshold"
	// ActionOracleHeartbeat sets the default staleness bound. Payload:
	// {"Seconds":1800}.
	ActionOracleHeartbeat = "oracle.default_heartbeat"
	// ActionRewardsIssuer rotates the claim issuer. Payload: {"Issuer":"0x..."}.
	ActionRewardsIssuer = "rewards.issuer"
)

type thresholdPayload struct {
	ThresholdUSD string
}

type heartbeatPayload struct {
	Seconds uint64
}

type issuerPayload struct {
	Issuer string
}

func decodeEscrowParams(payload []byte) (escrow.Params, error) {
	var section config.Escrow
	if err := json.Unmarshal(payload, &section); err != nil {
		return escrow.Params{}, err
	}
	params, err := section.Params()
	if err != nil {
		return escrow.Params{}, err
	}
	return params, params.Validate()
}

func decodeThreshold(payload []byte) (thresholdPayload, error) {
	var p thresholdPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, err
	}
	_, err := config.ParseUSD(p.ThresholdUSD)
	return p, err
}

func decodeHeartbeat(payload []byte) (heartbeatPayload, error) {
	var p heartbeatPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, err
	}
	if p.Seconds == 0 {
		return p, fmt.Errorf("heartbeat must be positive")
	}
	return p, nil
}

func decodeIssuer(payload []byte) (common.Address, error) {
	var p issuerPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return common.Address{}, err
	}
	return crypto.ParseAddress(p.Issuer)
}

// registerTimelockActions binds each action to the engine setter it drives.
// Handlers act as the current owner, which authorised the proposal.
func (r *Runtime) registerTimelockActions() {
	r.timelock.Register(ActionEscrowParams, timelock.HandlerFuncs{
		ValidateFn: func(payload []byte) error {
			_, err := decodeEscrowParams(payload)
			return err
		},
		ApplyFn: func(payload []byte) error {
			params, err := decodeEscrowParams(payload)
			if err != nil {
				return err
			}
			owner, err := r.access.Owner()
			if err != nil {
				return err
			}
			return r.escrow.SetParams(owner, params)
		},
	})
	r.timelock.Register(ActionTreasuryThreshold, timelock.HandlerFuncs{
		ValidateFn: func(payload []byte) error {
			_, err := decodeThreshold(payload)
			return err
		},
		ApplyFn: func(payload []byte) error {
			p, err := decodeThreshold(payload)
			if err != nil {
				return err
			}
			usd, err := config.ParseUSD(p.ThresholdUSD)
			if err != nil {
				return err
			}
			owner, err := r.access.Owner()
			if err != nil {
				return err
			}
			return r.treasury.SetThreshold(owner, usd)
		},
	})
	r.timelock.Register(ActionOracleHeartbeat, timelock.HandlerFuncs{
		ValidateFn: func(payload []byte) error {
			_, err := decodeHeartbeat(payload)
			return err
		},
		ApplyFn: func(payload []byte) error {
			p, err := decodeHeartbeat(payload)
			if err != nil {
				return err
			}
			owner, err := r.access.Owner()
			if err != nil {
				return err
			}
			return r.oracle.SetDefaultHeartbeat(owner, p.Seconds)
		},
	})
	r.timelock.Register(ActionRewardsIssuer, timelock.HandlerFuncs{
		ValidateFn: func(payload []byte) error {
			_, err := decodeIssuer(payload)
			return err
		},
		ApplyFn: func(payload []byte) error {
			issuer, err := decodeIssuer(payload)
			if err != nil {
				return err
			}
			owner, err := r.access.Owner()
			if err != nil {
				return err
			}
			return r.rewards.SetIssuer(owner, issuer)
		},
	})
}

// ProposeChange queues a timelocked action. Owner only.
func (r *Runtime) ProposeChange(caller common.Address, action string, payload []byte) (timelock.Change, error) {
	var change timelock.Change
	err := r.apply("ProposeChange", func() error {
		var err error
		change, err = r.timelock.Propose(caller, action, payload)
		return err
	})
	return change, err
}

// ExecuteChange applies a queued change whose delay has elapsed.
func (r *Runtime) ExecuteChange(caller common.Address, id uint64) (timelock.Change, error) {
	var change timelock.Change
	err := r.apply("ExecuteChange", func() error {
		var err error
		change, err = r.timelock.Execute(caller, id)
		return err
	})
	return change, err
}

// CancelChange withdraws a queued change. Owner only.
func (r *Runtime) CancelChange(caller common.Address, id uint64) (timelock.Change, error) {
	var change timelock.Change
	err := r.apply("CancelChange", func() error {
		var err error
		change, err = r.timelock.Cancel(caller, id)
		return err
	})
	return change, err
}

// Change returns queued change id.
func (r *Runtime) Change(id uint64) (timelock.Change, error) {
	var change timelock.Change
	err := r.view(func() error {
		var err error
		change, err = r.timelock.Get(id)
		return err
	})
	return change, err
}

// TimelockActions lists the action names ProposeChange accepts.
func (r *Runtime) TimelockActions() []string {
	return r.timelock.Actions()
}
