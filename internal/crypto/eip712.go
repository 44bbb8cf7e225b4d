package crypto

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

const (
	// DomainName and DomainVersion identify the engine in the EIP-712 domain.
	DomainName    = "escrowd"
	DomainVersion = "1"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Authorization(address seller,address buyer,address assetContract,uint256 tokenId,uint256 price,address paymentToken)
	authorizationTypeHash = ethcrypto.Keccak256(
		[]byte("Authorization(address seller,address buyer,address assetContract,uint256 tokenId,uint256 price,address paymentToken)"),
	)
)

// Domain is the EIP-712 signing domain. Binding the chain id and the engine
// address keeps an authorization from being redeemed on another deployment.
type Domain struct {
	ChainID *big.Int
	Engine  common.Address
}

// Separator returns keccak256(abi.encode(typeHash, name, version, chainId, verifyingContract)).
func (d Domain) Separator() []byte {
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(DomainName)),
			ethcrypto.Keccak256([]byte(DomainVersion)),
			bigIntTo32Bytes(chainID),
			common.LeftPadBytes(d.Engine.Bytes(), 32),
		),
	)
}

// AuthorizationDigest returns the 32-byte digest that the trusted signer signs
// for auth within d.
func AuthorizationDigest(d Domain, auth domain.Authorization) []byte {
	return eip712Hash(d.Separator(), authorizationStructHash(auth))
}

func authorizationStructHash(a domain.Authorization) []byte {
	tokenID := a.Asset.TokenID
	if tokenID == nil {
		tokenID = new(big.Int)
	}
	price := a.Price
	if price == nil {
		price = new(big.Int)
	}
	return ethcrypto.Keccak256(
		concatBytes(
			authorizationTypeHash,
			common.LeftPadBytes(a.Seller.Bytes(), 32),
			common.LeftPadBytes(a.Buyer.Bytes(), 32),
			common.LeftPadBytes(a.Asset.Contract.Bytes(), 32),
			bigIntTo32Bytes(tokenID),
			bigIntTo32Bytes(price),
			common.LeftPadBytes(a.Payment.Token.Bytes(), 32),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

// EncodeSignature renders a signature as 0x-prefixed hex.
func EncodeSignature(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}

// DecodeSignature parses a 0x-prefixed or bare hex signature.
func DecodeSignature(s string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode signature: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("crypto: signature is %d bytes, want 65", len(sig))
	}
	return sig, nil
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
