package crypto

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var ErrWordOverflow = errors.New("crypto: value does not fit in 256 bits")

// AmountWord packs a non-negative integer into a big-endian 32-byte word.
func AmountWord(v *big.Int) ([32]byte, error) {
	if v == nil {
		return [32]byte{}, nil
	}
	if v.Sign() < 0 {
		return [32]byte{}, ErrWordOverflow
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return [32]byte{}, ErrWordOverflow
	}
	return word.Bytes32(), nil
}

// Uint64Word packs v into a big-endian 32-byte word.
func Uint64Word(v uint64) [32]byte {
	return uint256.NewInt(v).Bytes32()
}

// Keccak256 hashes the concatenation of the supplied chunks.
func Keccak256(chunks ...[]byte) [32]byte {
	return crypto.Keccak256Hash(chunks...)
}

// AddressBytes returns the 20 raw address bytes, matching packed encoding.
func AddressBytes(addr common.Address) []byte {
	return addr.Bytes()
}
