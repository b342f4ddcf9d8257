package runtime

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"securepay/native/escrow"
)

// Initiate locks amount plus fee from sender for receiver.
func (r *Runtime) Initiate(sender, token, receiver common.Address, amount *big.Int) (uint64, error) {
	var id uint64
	err := r.apply("Initiate", func() error {
		var err error
		id, err = r.escrow.Initiate(sender, token, receiver, amount)
		return err
	})
	return id, err
}

// InitiateWithPermit applies a signed allowance and initiates in one command.
func (r *Runtime) InitiateWithPermit(sender, token, receiver common.Address, amount, permitValue *big.Int, deadline int64, sig []byte) (uint64, error) {
	var id uint64
	err := r.apply("InitiateWithPermit", func() error {
		var err error
		id, err = r.escrow.InitiateWithPermit(sender, token, receiver, amount, permitValue, deadline, sig)
		return err
	})
	return id, err
}

// Confirm releases transfer id to its receiver. Sender only.
func (r *Runtime) Confirm(caller common.Address, id uint64) error {
	return r.apply("Confirm", func() error { return r.escrow.Confirm(caller, id) })
}

// Cancel refunds transfer id to its sender. Sender only.
func (r *Runtime) Cancel(caller common.Address, id uint64) error {
	return r.apply("Cancel", func() error { return r.escrow.Cancel(caller, id) })
}

// ForceExpireBatch refunds every expired transfer in ids. Keeper or owner.
func (r *Runtime) ForceExpireBatch(caller common.Address, ids []uint64) ([]escrow.ExpireResult, error) {
	var results []escrow.ExpireResult
	err := r.apply("ForceExpireBatch", func() error {
		var err error
		results, err = r.escrow.ForceExpireBatch(caller, ids)
		return err
	})
	return results, err
}

// SetEscrowParams replaces the escrow parameters immediately. Owner only.
func (r *Runtime) SetEscrowParams(caller common.Address, params escrow.Params) error {
	return r.apply("SetEscrowParams", func() error { return r.escrow.SetParams(caller, params) })
}

// EscrowParams returns the active escrow parameters.
func (r *Runtime) EscrowParams() (escrow.Params, error) {
	var params escrow.Params
	err := r.view(func() error {
		var err error
		params, err = r.escrow.Params()
		return err
	})
	return params, err
}

// QuoteFee prices the fee Initiate would charge right now.
func (r *Runtime) QuoteFee(token common.Address, amount *big.Int) (escrow.FeeQuote, error) {
	var quote escrow.FeeQuote
	err := r.view(func() error {
		var err error
		quote, err = r.escrow.QuoteFee(token, amount)
		return err
	})
	return quote, err
}

// GetTransfer returns transfer id. Unknown or settled ids read as zeroed.
func (r *Runtime) GetTransfer(id uint64) (escrow.Transfer, error) {
	var transfer escrow.Transfer
	err := r.view(func() error {
		var err error
		transfer, err = r.escrow.GetTransfer(id)
		return err
	})
	return transfer, err
}

// OutboxIDs lists the active transfers sent by account.
func (r *Runtime) OutboxIDs(account common.Address) ([]uint64, error) {
	var ids []uint64
	err := r.view(func() error {
		var err error
		ids, err = r.escrow.OutboxIDs(account)
		return err
	})
	return ids, err
}

// InboxIDs lists the active transfers addressed to account.
func (r *Runtime) InboxIDs(account common.Address) ([]uint64, error) {
	var ids []uint64
	err := r.view(func() error {
		var err error
		ids, err = r.escrow.InboxIDs(account)
		return err
	})
	return ids, err
}

// ExpiredIDs lists up to limit active transfers past their expiry.
func (r *Runtime) ExpiredIDs(limit int) ([]uint64, error) {
	var ids []uint64
	err := r.view(func() error {
		var err error
		ids, err = r.escrow.ExpiredIDs(r.now(), limit)
		return err
	})
	return ids, err
}

// TransferCount returns the transfers account completed on day.
func (r *Runtime) TransferCount(account common.Address, day uint64) (uint64, error) {
	var n uint64
	err := r.view(func() error {
		var err error
		n, err = r.escrow.TransferCount(account, day)
		return err
	})
	return n, err
}

// TotalTransferCount returns the transfers account ever completed.
func (r *Runtime) TotalTransferCount(account common.Address) (uint64, error) {
	var n uint64
	err := r.view(func() error {
		var err error
		n, err = r.escrow.TotalTransferCount(account)
		return err
	})
	return n, err
}
