package dice

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.dedis.ch/kyber/v4/util/random"
)

// NonceBits is the size of a roll secret. It matches the uint256 argument of
// revealDice.
const NonceBits = 256

var nonceBound = new(big.Int).Lsh(big.NewInt(1), NonceBits)

// Hash returns the commitment of account to nonce:
// keccak256(account ++ uint256(nonce)), the packed encoding the contract
// recomputes on reveal.
func Hash(account common.Address, nonce *big.Int) common.Hash {
	return crypto.Keccak256Hash(account.Bytes(), common.LeftPadBytes(nonce.Bytes(), 32))
}

// Verify reports whether nonce opens commitment for account.
func Verify(account common.Address, nonce *big.Int, commitment common.Hash) bool {
	if nonce == nil || nonce.Sign() < 0 || nonce.Cmp(nonceBound) >= 0 {
		return false
	}
	return Hash(account, nonce) == commitment
}

// NonceSource produces roll secrets.
type NonceSource func() (*big.Int, error)

// RandomNonce draws a uniform non-zero 256-bit secret from a kyber random
// stream seeded by the operating system.
func RandomNonce() (*big.Int, error) {
	stream := random.New()
	for range 4 {
		n := random.Int(nonceBound, stream)
		if n.Sign() > 0 {
			return n, nil
		}
	}
	return nil, errors.New("random stream produced only zero nonces")
}
