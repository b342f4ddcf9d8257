package bank

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"securepay/crypto"
)

// PermitNonce returns the next permit nonce for owner on token.
func (l *Ledger) PermitNonce(token, owner common.Address) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	var nonce uint64
	if _, err := l.state.KVGet(permitNonceKey(token, owner), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// PermitDigest returns the EIP-191 digest an owner signs to grant spender an
// allowance of value until deadline.
func (l *Ledger) PermitDigest(token, owner, spender common.Address, value *big.Int, nonce uint64, deadline int64) ([32]byte, error) {
	if deadline < 0 {
		return [32]byte{}, fmt.Errorf("bank: negative permit deadline")
	}
	valueWord, err := crypto.AmountWord(value)
	if err != nil {
		return [32]byte{}, err
	}
	nonceWord := crypto.Uint64Word(nonce)
	deadlineWord := crypto.Uint64Word(uint64(deadline))
	domainWord := crypto.Uint64Word(l.domainID)
	hash := crypto.Keccak256(
		[]byte("securepay.permit"),
		token.Bytes(),
		owner.Bytes(),
		spender.Bytes(),
		valueWord[:],
		nonceWord[:],
		deadlineWord[:],
		domainWord[:],
	)
	return crypto.PersonalDigest(hash), nil
}

// Permit verifies a detached signature from owner and sets the allowance of
// spender to value. The permit nonce advances on success.
func (l *Ledger) Permit(token, owner, spender common.Address, value *big.Int, deadline int64, sig []byte, now int64) error {
	if token == NativeToken {
		return ErrPermitUnsupported
	}
	if _, err := l.TokenInfo(token); err != nil {
		return err
	}
	if l.verifier == nil {
		return ErrVerifierNotConfigured
	}
	if now > deadline {
		return fmt.Errorf("%w: deadline %d, now %d", ErrPermitExpired, deadline, now)
	}
	nonce, err := l.PermitNonce(token, owner)
	if err != nil {
		return err
	}
	digest, err := l.PermitDigest(token, owner, spender, value, nonce, deadline)
	if err != nil {
		return err
	}
	signer, err := l.verifier.Recover(digest, sig)
	if err != nil {
		return err
	}
	if signer != owner {
		return fmt.Errorf("%w: recovered %s", ErrPermitSignerMismatch, signer.Hex())
	}
	if err := l.state.KVPut(permitNonceKey(token, owner), nonce+1); err != nil {
		return err
	}
	return l.Approve(owner, token, spender, value)
}
