package domain

import (
	"math/big"
	"time"
)

// AuctionOutcome records how an ended auction was resolved.
type AuctionOutcome string

const (
	AuctionOutcomeOpen          AuctionOutcome = ""
	AuctionOutcomeWon           AuctionOutcome = "won"
	AuctionOutcomeReserveNotMet AuctionOutcome = "reserve_not_met"
	AuctionOutcomeNoBids        AuctionOutcome = "no_bids"
)

// Auction is a time-boxed sale with a reserve price.
type Auction struct {
	ID            uint64         `json:"id"`
	Seller        Address        `json:"seller"`
	Asset         AssetRef       `json:"asset"`
	StartingPrice *big.Int       `json:"starting_price"`
	ReservePrice  *big.Int       `json:"reserve_price"`
	Payment       PaymentMethod  `json:"payment"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	Active        bool           `json:"active"`
	HighestBidder *Address       `json:"highest_bidder,omitempty"` // nil iff HighestBid is zero
	HighestBid    *big.Int       `json:"highest_bid"`
	Metadata      string         `json:"metadata,omitempty"`
	Outcome       AuctionOutcome `json:"outcome,omitempty"`
}

// HasBid reports whether any bid has been accepted.
func (a Auction) HasBid() bool {
	return a.HighestBidder != nil
}

// Clone returns a deep copy of a.
func (a Auction) Clone() Auction {
	a.Asset = a.Asset.Clone()
	a.StartingPrice = cloneInt(a.StartingPrice)
	a.ReservePrice = cloneInt(a.ReservePrice)
	a.HighestBid = cloneInt(a.HighestBid)
	if a.HighestBidder != nil {
		b := *a.HighestBidder
		a.HighestBidder = &b
	}
	return a
}

// AuctionParams are the caller-supplied fields of a new auction.
type AuctionParams struct {
	Asset         AssetRef
	StartingPrice *big.Int
	ReservePrice  *big.Int
	Payment       PaymentMethod
	Duration      time.Duration
	Metadata      string
}

// Bid is the latest bid of one bidder on one auction. Refunded is set once the
// amount has been returned after being outbid or after a failed reserve.
type Bid struct {
	AuctionID uint64    `json:"auction_id"`
	Bidder    Address   `json:"bidder"`
	Amount    *big.Int  `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	Refunded  bool      `json:"refunded"`
}

// Clone returns a deep copy of b.
func (b Bid) Clone() Bid {
	b.Amount = cloneInt(b.Amount)
	return b
}
