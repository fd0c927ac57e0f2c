// Package sig verifies the secp256k1 signatures that authorize settlement
// instructions. Wallets sign the Keccak-256 hash of an instruction under the
// standard Ethereum signed-message prefix, and the signer address is
// recovered rather than compared, so no key material is ever stored.
package sig

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrBadSignatureLength = errors.New("signature must be 65 bytes")

// Verifier recovers the wallet that signed an instruction hash.
type Verifier interface {
	RecoverSigner(hash common.Hash, signature []byte) (common.Address, error)
}

// EthVerifier implements Verifier for Ethereum personal_sign style
// signatures: 65-byte r||s||v with v in {27, 28} or {0, 1}.
type EthVerifier struct{}

// prefixed applies the Ethereum signed-message envelope to a 32-byte digest.
func prefixed(hash common.Hash) []byte {
	return crypto.Keccak256([]byte("\x19Ethereum Signed Message:\n32"), hash.Bytes())
}

func (EthVerifier) RecoverSigner(hash common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, ErrBadSignatureLength
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(prefixed(hash), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a signature RecoverSigner accepts. It exists for tests and
// tooling; the service itself never holds wallet keys.
func Sign(hash common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(prefixed(hash), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
