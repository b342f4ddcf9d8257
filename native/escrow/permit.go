package escrow

import (
	"encoding/hex"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"securepay/native/bank"
	"securepay/observability/logging"
)

// InitiateWithPermit authorises the vault through a detached permit signed
// by sender instead of a pre-existing allowance, then performs Initiate. The
// permit must cover amount plus the fee quoted at the same point in time.
func (e *Engine) InitiateWithPermit(sender, token, receiver common.Address, amount *big.Int, permitValue *big.Int, deadline int64, sig []byte) (uint64, error) {
	if err := e.validateInitiate(sender, receiver, amount); err != nil {
		return 0, err
	}
	if token == bank.NativeToken {
		return 0, ErrPermitUnsupported
	}
	if err := e.bank.Permit(token, sender, e.vault, permitValue, deadline, sig, e.now()); err != nil {
		return 0, err
	}
	e.logger.Debug("escrow permit accepted",
		slog.String("sender", sender.Hex()),
		slog.String("value", permitValue.String()),
		slog.Int64("deadline", deadline),
		logging.MaskField("signature", "0x"+hex.EncodeToString(sig)))
	return e.initiate(sender, token, receiver, amount)
}
