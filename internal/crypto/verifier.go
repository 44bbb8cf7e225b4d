package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// Verifier recovers authorization signers for one EIP-712 domain.
type Verifier struct {
	domainSep []byte
}

// NewVerifier builds a Verifier for d.
func NewVerifier(d Domain) *Verifier {
	return &Verifier{domainSep: d.Separator()}
}

// Recover returns the address whose key produced sig over auth. V may be
// given as 0/1 or 27/28.
func (v *Verifier) Recover(auth domain.Authorization, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/verifier: signature is %d bytes, want 65", len(sig))
	}
	norm := make([]byte, 65)
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}
	if norm[64] > 1 {
		return common.Address{}, errors.New("crypto/verifier: invalid recovery id")
	}
	digest := eip712Hash(v.domainSep, authorizationStructHash(auth))
	pub, err := ethcrypto.SigToPub(digest, norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/verifier: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
