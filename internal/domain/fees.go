package domain

import (
	"fmt"
	"math/big"
	"time"
)

const (
	// BpsDenominator is the number of basis points in one whole.
	BpsDenominator = 10_000
	// MaxFeeBps caps every fee rate at 10%.
	MaxFeeBps uint32 = 1_000
)

// FeeAccount is the fee schedule plus the platform revenue accrued per payment
// method.
type FeeAccount struct {
	PlatformFeeBps uint32                     `json:"platform_fee_bps"`
	OfferFeeBps    uint32                     `json:"offer_fee_bps"`
	Accumulated    map[PaymentMethod]*big.Int `json:"accumulated"`
}

// Clone returns a deep copy of f.
func (f FeeAccount) Clone() FeeAccount {
	out := FeeAccount{
		PlatformFeeBps: f.PlatformFeeBps,
		OfferFeeBps:    f.OfferFeeBps,
		Accumulated:    make(map[PaymentMethod]*big.Int, len(f.Accumulated)),
	}
	for k, v := range f.Accumulated {
		out.Accumulated[k] = cloneInt(v)
	}
	return out
}

// Limits bounds durations and batch sizes accepted by the engine.
type Limits struct {
	MinListingDuration time.Duration `json:"min_listing_duration"`
	MaxListingDuration time.Duration `json:"max_listing_duration"`
	MinAuctionDuration time.Duration `json:"min_auction_duration"`
	MaxAuctionDuration time.Duration `json:"max_auction_duration"`
	MaxOfferDuration   time.Duration `json:"max_offer_duration"`
	MaxBulkEntries     int           `json:"max_bulk_entries"`
}

// DefaultLimits returns the limits a fresh engine starts with.
func DefaultLimits() Limits {
	return Limits{
		MinListingDuration: time.Hour,
		MaxListingDuration: 180 * 24 * time.Hour,
		MinAuctionDuration: time.Hour,
		MaxAuctionDuration: 7 * 24 * time.Hour,
		MaxOfferDuration:   30 * 24 * time.Hour,
		MaxBulkEntries:     50,
	}
}

// Validate checks that every bound is positive and every range is ordered.
func (l Limits) Validate() error {
	switch {
	case l.MinListingDuration <= 0 || l.MaxListingDuration < l.MinListingDuration:
		return fmt.Errorf("%w: listing duration range", ErrInvalidLimits)
	case l.MinAuctionDuration <= 0 || l.MaxAuctionDuration < l.MinAuctionDuration:
		return fmt.Errorf("%w: auction duration range", ErrInvalidLimits)
	case l.MaxOfferDuration <= 0:
		return fmt.Errorf("%w: offer duration", ErrInvalidLimits)
	case l.MaxBulkEntries <= 0:
		return fmt.Errorf("%w: bulk entries", ErrInvalidLimits)
	}
	return nil
}
