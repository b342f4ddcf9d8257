package rewards

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"securepay/crypto"
)

// ClaimDigest is the EIP-191 digest an issuer signs to grant amount to
// account under nonce. domainID and contract bind the grant to one
// deployment.
func ClaimDigest(account common.Address, amount *big.Int, nonce [32]byte, domainID uint64, contract common.Address) ([32]byte, error) {
	amountWord, err := crypto.AmountWord(amount)
	if err != nil {
		return [32]byte{}, err
	}
	domainWord := crypto.Uint64Word(domainID)
	hash := crypto.Keccak256(
		crypto.AddressBytes(account),
		amountWord[:],
		nonce[:],
		domainWord[:],
		crypto.AddressBytes(contract),
	)
	return crypto.PersonalDigest(hash), nil
}
