package domain

import (
	"math/big"
	"time"
)

// EventKind names a lifecycle transition recorded in the event log.
type EventKind string

const (
	EventListingCreated   EventKind = "listing_created"
	EventListingUpdated   EventKind = "listing_updated"
	EventListingCancelled EventKind = "listing_cancelled"
	EventItemSold         EventKind = "item_sold"
	EventAuctionCreated   EventKind = "auction_created"
	EventBidRefunded      EventKind = "bid_refunded"
	EventBidPlaced        EventKind = "bid_placed"
	EventAuctionEnded     EventKind = "auction_ended"
	EventOfferMade        EventKind = "offer_made"
	EventOfferAccepted    EventKind = "offer_accepted"
	EventOfferCancelled   EventKind = "offer_cancelled"
	EventSignatureSale    EventKind = "signature_sale"
	EventFeeUpdated       EventKind = "fee_updated"
	EventLimitsUpdated    EventKind = "limits_updated"
	EventSignerUpdated    EventKind = "signer_updated"
	EventFeesWithdrawn    EventKind = "fees_withdrawn"
)

// Event is one immutable entry of the engine's append-only log. Seq is
// assigned at commit and is dense across committed calls.
//
// From is the party giving up the asset or funds (seller, owner, admin) and
// To the party receiving them (buyer, winner, refunded maker). Amount is the
// gross price, bid or refund; Fee the platform share of it.
type Event struct {
	Seq       uint64        `json:"seq"`
	Kind      EventKind     `json:"kind"`
	Timestamp time.Time     `json:"timestamp"`
	Caller    Address       `json:"caller"`
	EntityID  uint64        `json:"entity_id,omitempty"`
	Asset     *AssetRef     `json:"asset,omitempty"`
	From      *Address      `json:"from,omitempty"`
	To        *Address      `json:"to,omitempty"`
	Amount    *big.Int      `json:"amount,omitempty"`
	Fee       *big.Int      `json:"fee,omitempty"`
	Payment   PaymentMethod `json:"payment"`
	Reason    string        `json:"reason,omitempty"`
}

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	if e.Asset != nil {
		a := e.Asset.Clone()
		e.Asset = &a
	}
	if e.From != nil {
		f := *e.From
		e.From = &f
	}
	if e.To != nil {
		t := *e.To
		e.To = &t
	}
	e.Amount = cloneInt(e.Amount)
	e.Fee = cloneInt(e.Fee)
	return e
}

// AddrPtr returns a pointer to a copy of a.
func AddrPtr(a Address) *Address {
	return &a
}
