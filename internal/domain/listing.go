package domain

import (
	"math/big"
	"time"
)

// Listing is a seller's fixed-price sale of one escrowed asset. While Active
// the engine holds the asset; an inactive listing never does.
type Listing struct {
	ID        uint64        `json:"id"`
	Seller    Address       `json:"seller"`
	Asset     AssetRef      `json:"asset"`
	Price     *big.Int      `json:"price"`
	Payment   PaymentMethod `json:"payment"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Active    bool          `json:"active"`
	Metadata  string        `json:"metadata,omitempty"`
}

// Clone returns a copy that shares no big.Int with l.
func (l Listing) Clone() Listing {
	l.Asset = l.Asset.Clone()
	l.Price = cloneInt(l.Price)
	return l
}

// ListingParams are the caller-supplied fields of a new listing.
type ListingParams struct {
	Asset    AssetRef
	Price    *big.Int
	Payment  PaymentMethod
	Duration time.Duration
	Metadata string
}

// EntryResult reports the outcome of one entry of a bulk call. Err is nil for
// entries that committed; ID is zero for entries that did not create anything.
type EntryResult struct {
	Index int    `json:"index"`
	ID    uint64 `json:"id,omitempty"`
	Err   error  `json:"-"`
}

// OK reports whether the entry committed.
func (r EntryResult) OK() bool {
	return r.Err == nil
}
