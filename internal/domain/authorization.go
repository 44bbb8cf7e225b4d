package domain

import "math/big"

// Authorization binds exactly one seller, buyer, asset and price. It is signed
// off-ledger by the trusted signer and redeemed once; after the first transfer
// the seller no longer owns the asset, so a replay fails.
type Authorization struct {
	Seller  Address       `json:"seller"`
	Buyer   Address       `json:"buyer"`
	Asset   AssetRef      `json:"asset"`
	Price   *big.Int      `json:"price"`
	Payment PaymentMethod `json:"payment"`
}

// SignedAuthorization pairs an Authorization with its 65-byte [R || S || V]
// signature.
type SignedAuthorization struct {
	Authorization
	Signature []byte `json:"signature"`
}
