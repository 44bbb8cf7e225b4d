package domain

import (
	"math/big"
	"time"
)

// Reasons recorded on cancelled offers.
const (
	CancelReasonSuperseded = "superseded"
	CancelReasonRejected   = "rejected by owner"
	CancelReasonExpired    = "expired"
)

// Offer is a buyer's deposit-backed bid on an asset held by someone else.
// An offer is terminal once Cancelled or SettledAt is set.
type Offer struct {
	ID           uint64        `json:"id"`
	AssetOwner   Address       `json:"asset_owner"`
	OfferMaker   Address       `json:"offer_maker"`
	Asset        AssetRef      `json:"asset"`
	Price        *big.Int      `json:"price"`
	Payment      PaymentMethod `json:"payment"`
	CreatedAt    time.Time     `json:"created_at"`
	ExpiresAt    time.Time     `json:"expires_at"`
	Cancelled    bool          `json:"cancelled"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	SettledAt    time.Time     `json:"settled_at,omitempty"`
}

// Terminal reports whether the offer's deposit has already been disbursed.
func (o Offer) Terminal() bool {
	return o.Cancelled || !o.SettledAt.IsZero()
}

// Clone returns a deep copy of o.
func (o Offer) Clone() Offer {
	o.Asset = o.Asset.Clone()
	o.Price = cloneInt(o.Price)
	return o
}

// OfferParams are the caller-supplied fields of a new offer.
type OfferParams struct {
	AssetOwner Address
	Asset      AssetRef
	Price      *big.Int
	Payment    PaymentMethod
	ExpiresAt  time.Time
}
