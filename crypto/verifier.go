package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of a recoverable secp256k1 signature.
const SignatureLength = crypto.SignatureLength

var ErrInvalidSignature = errors.New("crypto: invalid signature")

// Verifier recovers the account that produced a signature over a digest.
type Verifier interface {
	Recover(digest [32]byte, signature []byte) (common.Address, error)
}

// EthVerifier recovers secp256k1 signers the way Ethereum wallets produce
// them: 65 bytes, r || s || v with v in {0,1} or {27,28}.
type EthVerifier struct{}

// Recover implements Verifier.
func (EthVerifier) Recover(digest [32]byte, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(signature))
	}
	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: bad recovery id", ErrInvalidSignature)
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// PersonalDigest applies the EIP-191 "Ethereum Signed Message" prefix to a
// 32-byte message hash.
func PersonalDigest(hash [32]byte) [32]byte {
	var out [32]byte
	copy(out[:], accounts.TextHash(hash[:]))
	return out
}

// Sign produces a 65-byte signature with v in {27,28} over digest.
func Sign(key *PrivateKey, digest [32]byte) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	sig, err := crypto.Sign(digest[:], key.PrivateKey)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}
