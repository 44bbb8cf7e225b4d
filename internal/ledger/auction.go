package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// CreateAuction escrows the caller's asset and opens a timed auction. A nil
// reserve price defaults to the starting price.
func (l *Ledger) CreateAuction(ctx context.Context, call Call, p domain.AuctionParams) (uint64, error) {
	var id uint64
	err := l.exec(ctx, "create auction", call, func(c *callCtx) error {
		if p.StartingPrice == nil || p.StartingPrice.Sign() <= 0 {
			return domain.ErrZeroPrice
		}
		reserve := p.ReservePrice
		if reserve == nil {
			reserve = p.StartingPrice
		}
		if reserve.Cmp(p.StartingPrice) < 0 {
			return domain.ErrReserveBelowStart
		}
		lim := l.st.limits
		if p.Duration < lim.MinAuctionDuration || p.Duration > lim.MaxAuctionDuration {
			return fmt.Errorf("%w: %s not in [%s, %s]", domain.ErrDurationOutOfBounds, p.Duration, lim.MinAuctionDuration, lim.MaxAuctionDuration)
		}
		if err := c.hold(c.caller, p.Asset); err != nil {
			return err
		}

		a := domain.Auction{
			ID:            uint64(len(l.st.auctions)) + 1,
			Seller:        c.caller,
			Asset:         p.Asset.Clone(),
			StartingPrice: new(big.Int).Set(p.StartingPrice),
			ReservePrice:  new(big.Int).Set(reserve),
			Payment:       p.Payment,
			StartTime:     c.now,
			EndTime:       c.now.Add(p.Duration),
			Active:        true,
			HighestBid:    new(big.Int),
			Metadata:      p.Metadata,
		}
		l.putAuction(a)
		c.emit(domain.Event{
			Kind:     domain.EventAuctionCreated,
			EntityID: a.ID,
			Asset:    &a.Asset,
			From:     domain.AddrPtr(a.Seller),
			Amount:   new(big.Int).Set(a.StartingPrice),
			Payment:  a.Payment,
		})
		id = a.ID
		return nil
	})
	return id, err
}

// refundBid returns the recorded bid of bidder in full and marks it refunded.
func (c *callCtx) refundBid(a domain.Auction, bidder domain.Address, reason string) error {
	l := c.l
	b, ok := l.st.bids[bidKey{auction: a.ID, bidder: bidder}]
	if !ok || b.Refunded {
		return fmt.Errorf("%w: no outstanding bid of %s on auction %d", domain.ErrState, bidder.Hex(), a.ID)
	}
	if err := l.transferPayment(a.Payment, l.engine, bidder, b.Amount); err != nil {
		return err
	}
	b.Refunded = true
	l.putBid(b)
	c.emit(domain.Event{
		Kind:     domain.EventBidRefunded,
		EntityID: a.ID,
		To:       domain.AddrPtr(bidder),
		Amount:   new(big.Int).Set(b.Amount),
		Payment:  a.Payment,
		Reason:   reason,
	})
	return nil
}

// PlaceBid records a bid of amount on an active auction. The amount is taken
// from the caller, and the previous highest bidder is refunded in full before
// the new bid replaces theirs.
func (l *Ledger) PlaceBid(ctx context.Context, call Call, id uint64, amount *big.Int) error {
	return l.exec(ctx, "place bid", call, func(c *callCtx) error {
		a, err := l.st.auction(id)
		if err != nil {
			return err
		}
		if !a.Active {
			return domain.ErrNotActive
		}
		if !c.now.Before(a.EndTime) {
			return domain.ErrExpired
		}
		if c.caller == a.Seller {
			return domain.ErrSelfTrade
		}
		if amount == nil || amount.Cmp(a.HighestBid) <= 0 || amount.Cmp(a.StartingPrice) < 0 {
			return fmt.Errorf("%w: %s against highest %s, starting %s", domain.ErrBidTooLow, amount, a.HighestBid, a.StartingPrice)
		}
		if err := c.collect(a.Payment, amount); err != nil {
			return err
		}
		if a.HasBid() {
			if err := c.refundBid(a, *a.HighestBidder, "outbid"); err != nil {
				return err
			}
		}

		a.HighestBidder = domain.AddrPtr(c.caller)
		a.HighestBid = new(big.Int).Set(amount)
		l.putAuction(a)
		l.putBid(domain.Bid{
			AuctionID: a.ID,
			Bidder:    c.caller,
			Amount:    new(big.Int).Set(amount),
			Timestamp: c.now,
		})
		c.emit(domain.Event{
			Kind:     domain.EventBidPlaced,
			EntityID: a.ID,
			To:       domain.AddrPtr(c.caller),
			Amount:   new(big.Int).Set(amount),
			Payment:  a.Payment,
		})
		return nil
	})
}

// EndAuction resolves an auction whose end time has passed. Anyone may call
// it. When the highest bid meets the reserve the seller is paid and the asset
// goes to the winner; otherwise the bidder, if any, is refunded and the asset
// returns to the seller. Ending an already ended auction fails.
func (l *Ledger) EndAuction(ctx context.Context, call Call, id uint64) error {
	return l.exec(ctx, "end auction", call, func(c *callCtx) error {
		a, err := l.st.auction(id)
		if err != nil {
			return err
		}
		if !a.Active {
			return domain.ErrNotActive
		}
		if c.now.Before(a.EndTime) {
			return domain.ErrNotEnded
		}
		a.Active = false

		if a.HasBid() && a.HighestBid.Cmp(a.ReservePrice) >= 0 {
			winner := *a.HighestBidder
			a.Outcome = domain.AuctionOutcomeWon
			l.putAuction(a)
			payout, fee, err := l.paySale(a.Payment, a.Seller, a.HighestBid, l.st.fees.PlatformFeeBps)
			if err != nil {
				return err
			}
			c.emit(domain.Event{
				Kind:     domain.EventAuctionEnded,
				EntityID: a.ID,
				Asset:    &a.Asset,
				From:     domain.AddrPtr(a.Seller),
				To:       domain.AddrPtr(winner),
				Amount:   new(big.Int).Add(payout, fee),
				Fee:      fee,
				Payment:  a.Payment,
				Reason:   string(a.Outcome),
			})
			return c.release(a.Asset, winner)
		}

		a.Outcome = domain.AuctionOutcomeNoBids
		if a.HasBid() {
			a.Outcome = domain.AuctionOutcomeReserveNotMet
		}
		l.putAuction(a)
		if a.HasBid() {
			if err := c.refundBid(a, *a.HighestBidder, string(a.Outcome)); err != nil {
				return err
			}
		}
		c.emit(domain.Event{
			Kind:     domain.EventAuctionEnded,
			EntityID: a.ID,
			Asset:    &a.Asset,
			From:     domain.AddrPtr(a.Seller),
			Payment:  a.Payment,
			Reason:   string(a.Outcome),
		})
		return c.release(a.Asset, a.Seller)
	})
}
