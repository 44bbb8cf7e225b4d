package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// Signer issues EIP-712 trade authorizations. It is the off-ledger half of
// signature settlement; the engine only ever sees its address.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domain     Domain
	domainSep  []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string, d Domain) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return NewSignerFromKey(pk, d), nil
}

// NewSignerFromKey wraps an already parsed private key.
func NewSignerFromKey(pk *ecdsa.PrivateKey, d Domain) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domain:     d,
		domainSep:  d.Separator(),
	}
}

// Address returns the address derived from the signer's key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAuthorization signs auth and returns the 65-byte [R || S || V]
// signature with V in {27, 28}.
func (s *Signer) SignAuthorization(auth domain.Authorization) ([]byte, error) {
	digest := eip712Hash(s.domainSep, authorizationStructHash(auth))
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w: %w", domain.ErrSigningFailed, err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}
