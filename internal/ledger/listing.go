package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

func (c *callCtx) checkListingTerms(price *big.Int, d time.Duration) error {
	if price == nil || price.Sign() <= 0 {
		return domain.ErrZeroPrice
	}
	lim := c.l.st.limits
	if d < lim.MinListingDuration || d > lim.MaxListingDuration {
		return fmt.Errorf("%w: %s not in [%s, %s]", domain.ErrDurationOutOfBounds, d, lim.MinListingDuration, lim.MaxListingDuration)
	}
	return nil
}

func (c *callCtx) createListing(p domain.ListingParams) (uint64, error) {
	if err := c.checkListingTerms(p.Price, p.Duration); err != nil {
		return 0, err
	}
	if err := c.hold(c.caller, p.Asset); err != nil {
		return 0, err
	}
	l := c.l
	lst := domain.Listing{
		ID:        uint64(len(l.st.listings)) + 1,
		Seller:    c.caller,
		Asset:     p.Asset.Clone(),
		Price:     new(big.Int).Set(p.Price),
		Payment:   p.Payment,
		CreatedAt: c.now,
		ExpiresAt: c.now.Add(p.Duration),
		Active:    true,
		Metadata:  p.Metadata,
	}
	l.putListing(lst)
	c.emit(domain.Event{
		Kind:     domain.EventListingCreated,
		EntityID: lst.ID,
		Asset:    &lst.Asset,
		From:     domain.AddrPtr(lst.Seller),
		Amount:   new(big.Int).Set(lst.Price),
		Payment:  lst.Payment,
	})
	return lst.ID, nil
}

// CreateListing escrows the caller's asset and opens a fixed-price listing.
func (l *Ledger) CreateListing(ctx context.Context, call Call, p domain.ListingParams) (uint64, error) {
	var id uint64
	err := l.exec(ctx, "create listing", call, func(c *callCtx) error {
		var err error
		id, err = c.createListing(p)
		return err
	})
	return id, err
}

// CreateListings creates one listing per entry. Each entry commits or fails on
// its own: a failed entry does not undo earlier ones, and the returned results
// report the outcome of every entry. The call itself fails only when the batch
// is empty or larger than the configured limit.
func (l *Ledger) CreateListings(ctx context.Context, call Call, entries []domain.ListingParams) ([]domain.EntryResult, error) {
	var results []domain.EntryResult
	err := l.exec(ctx, "create listings", call, func(c *callCtx) error {
		if len(entries) == 0 {
			return domain.ErrEmptyBatch
		}
		if limit := l.st.limits.MaxBulkEntries; len(entries) > limit {
			return fmt.Errorf("%w: %d entries, max %d", domain.ErrBatchTooLarge, len(entries), limit)
		}
		results = make([]domain.EntryResult, len(entries))
		for i, p := range entries {
			sp := l.tx.savepoint()
			id, err := c.createListing(p)
			if err != nil {
				l.tx.rollbackTo(sp)
			}
			results[i] = domain.EntryResult{Index: i, ID: id, Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateListing changes the price of an active listing and restarts its
// duration from now.
func (l *Ledger) UpdateListing(ctx context.Context, call Call, id uint64, price *big.Int, d time.Duration) error {
	return l.exec(ctx, "update listing", call, func(c *callCtx) error {
		lst, err := l.st.listing(id)
		if err != nil {
			return err
		}
		if lst.Seller != c.caller {
			return domain.ErrNotSeller
		}
		if !lst.Active {
			return domain.ErrNotActive
		}
		if err := c.checkListingTerms(price, d); err != nil {
			return err
		}
		lst.Price = new(big.Int).Set(price)
		lst.ExpiresAt = c.now.Add(d)
		l.putListing(lst)
		c.emit(domain.Event{
			Kind:     domain.EventListingUpdated,
			EntityID: lst.ID,
			Asset:    &lst.Asset,
			From:     domain.AddrPtr(lst.Seller),
			Amount:   new(big.Int).Set(lst.Price),
			Payment:  lst.Payment,
		})
		return nil
	})
}

// CancelListing closes an active listing and returns the asset to the seller.
func (l *Ledger) CancelListing(ctx context.Context, call Call, id uint64) error {
	return l.exec(ctx, "cancel listing", call, func(c *callCtx) error {
		lst, err := l.st.listing(id)
		if err != nil {
			return err
		}
		if lst.Seller != c.caller {
			return domain.ErrNotSeller
		}
		if !lst.Active {
			return domain.ErrNotActive
		}
		lst.Active = false
		l.putListing(lst)
		c.emit(domain.Event{
			Kind:     domain.EventListingCancelled,
			EntityID: lst.ID,
			Asset:    &lst.Asset,
			To:       domain.AddrPtr(lst.Seller),
		})
		return c.release(lst.Asset, lst.Seller)
	})
}

// BuyListing buys an active, unexpired listing at its exact price. The listing
// is closed and the price routed before the asset is released to the buyer.
func (l *Ledger) BuyListing(ctx context.Context, call Call, id uint64) error {
	return l.exec(ctx, "buy listing", call, func(c *callCtx) error {
		lst, err := l.st.listing(id)
		if err != nil {
			return err
		}
		if !lst.Active {
			return domain.ErrNotActive
		}
		if !c.now.Before(lst.ExpiresAt) {
			return domain.ErrExpired
		}
		if c.caller == lst.Seller {
			return domain.ErrSelfTrade
		}

		lst.Active = false
		l.putListing(lst)

		if err := c.collect(lst.Payment, lst.Price); err != nil {
			return err
		}
		payout, fee, err := l.paySale(lst.Payment, lst.Seller, lst.Price, l.st.fees.PlatformFeeBps)
		if err != nil {
			return err
		}
		c.emit(domain.Event{
			Kind:     domain.EventItemSold,
			EntityID: lst.ID,
			Asset:    &lst.Asset,
			From:     domain.AddrPtr(lst.Seller),
			To:       domain.AddrPtr(c.caller),
			Amount:   new(big.Int).Add(payout, fee),
			Fee:      fee,
			Payment:  lst.Payment,
		})
		return c.release(lst.Asset, c.caller)
	})
}
