package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// MakeOffer deposits price with the engine as an offer for an asset held by
// AssetOwner. The asset itself does not move until the owner accepts.
func (l *Ledger) MakeOffer(ctx context.Context, call Call, p domain.OfferParams) (uint64, error) {
	var id uint64
	err := l.exec(ctx, "make offer", call, func(c *callCtx) error {
		if p.Price == nil || p.Price.Sign() <= 0 {
			return domain.ErrZeroPrice
		}
		if err := p.Asset.Validate(); err != nil {
			return err
		}
		if p.AssetOwner == domain.ZeroAddress {
			return fmt.Errorf("asset owner: %w", domain.ErrZeroAddress)
		}
		if c.caller == p.AssetOwner {
			return domain.ErrSelfTrade
		}
		owner, ok := l.st.owners[p.Asset.Key()]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrUnknownAsset, p.Asset)
		}
		if owner != p.AssetOwner {
			return fmt.Errorf("%w: %s held by %s", domain.ErrAssetNotOwned, p.Asset, owner.Hex())
		}
		if !p.ExpiresAt.After(c.now) || p.ExpiresAt.Sub(c.now) > l.st.limits.MaxOfferDuration {
			return fmt.Errorf("%w: %s", domain.ErrInvalidExpiry, p.ExpiresAt)
		}
		if err := c.collect(p.Payment, p.Price); err != nil {
			return err
		}

		o := domain.Offer{
			ID:         uint64(len(l.st.offers)) + 1,
			AssetOwner: p.AssetOwner,
			OfferMaker: c.caller,
			Asset:      p.Asset.Clone(),
			Price:      new(big.Int).Set(p.Price),
			Payment:    p.Payment,
			CreatedAt:  c.now,
			ExpiresAt:  p.ExpiresAt,
		}
		l.putOffer(o)
		c.emit(domain.Event{
			Kind:     domain.EventOfferMade,
			EntityID: o.ID,
			Asset:    &o.Asset,
			From:     domain.AddrPtr(o.OfferMaker),
			To:       domain.AddrPtr(o.AssetOwner),
			Amount:   new(big.Int).Set(o.Price),
			Payment:  o.Payment,
		})
		id = o.ID
		return nil
	})
	return id, err
}

// cancelOffer marks an offer cancelled and refunds its deposit. The terminal
// flag is set before the refund so a deposit is disbursed at most once.
func (c *callCtx) cancelOffer(o domain.Offer, reason string) error {
	l := c.l
	o.Cancelled = true
	o.CancelReason = reason
	l.putOffer(o)
	if err := l.transferPayment(o.Payment, l.engine, o.OfferMaker, o.Price); err != nil {
		return err
	}
	c.emit(domain.Event{
		Kind:     domain.EventOfferCancelled,
		EntityID: o.ID,
		Asset:    &o.Asset,
		To:       domain.AddrPtr(o.OfferMaker),
		Amount:   new(big.Int).Set(o.Price),
		Payment:  o.Payment,
		Reason:   reason,
	})
	return nil
}

// ownedOffers loads ids as offers the caller may resolve as asset owner. Every
// id must exist, be unique, be open and name the caller as owner.
func (c *callCtx) ownedOffers(ids []uint64, exclude uint64) ([]domain.Offer, error) {
	seen := make(map[uint64]bool, len(ids))
	out := make([]domain.Offer, 0, len(ids))
	for _, id := range ids {
		if (exclude != 0 && id == exclude) || seen[id] {
			return nil, fmt.Errorf("%w: offer %d", domain.ErrDuplicateID, id)
		}
		seen[id] = true
		o, err := c.l.st.offer(id)
		if err != nil {
			return nil, fmt.Errorf("offer %d: %w", id, err)
		}
		if o.AssetOwner != c.caller {
			return nil, fmt.Errorf("offer %d: %w", id, domain.ErrNotOwner)
		}
		if o.Terminal() {
			return nil, fmt.Errorf("offer %d: %w", id, domain.ErrTerminal)
		}
		out = append(out, o)
	}
	return out, nil
}

// AcceptOffer settles an open offer: the owner is paid from the deposit at the
// offer fee rate and the asset moves to the offer maker. Offers listed in
// supersede are cancelled and refunded in the same call; offers not listed are
// left untouched.
func (l *Ledger) AcceptOffer(ctx context.Context, call Call, id uint64, supersede []uint64) error {
	return l.exec(ctx, "accept offer", call, func(c *callCtx) error {
		o, err := l.st.offer(id)
		if err != nil {
			return err
		}
		if o.AssetOwner != c.caller {
			return domain.ErrNotOwner
		}
		if o.Terminal() {
			return domain.ErrTerminal
		}
		if !c.now.Before(o.ExpiresAt) {
			return domain.ErrExpired
		}
		others, err := c.ownedOffers(supersede, id)
		if err != nil {
			return err
		}

		o.SettledAt = c.now
		l.putOffer(o)
		for _, other := range others {
			if err := c.cancelOffer(other, domain.CancelReasonSuperseded); err != nil {
				return err
			}
		}
		payout, fee, err := l.paySale(o.Payment, o.AssetOwner, o.Price, l.st.fees.OfferFeeBps)
		if err != nil {
			return err
		}
		c.emit(domain.Event{
			Kind:     domain.EventOfferAccepted,
			EntityID: o.ID,
			Asset:    &o.Asset,
			From:     domain.AddrPtr(o.AssetOwner),
			To:       domain.AddrPtr(o.OfferMaker),
			Amount:   new(big.Int).Add(payout, fee),
			Fee:      fee,
			Payment:  o.Payment,
		})
		return c.deliver(o.AssetOwner, o.OfferMaker, o.Asset)
	})
}

// RejectOffers cancels and refunds every listed offer. The caller must be the
// asset owner of each one; any bad id fails the whole call.
func (l *Ledger) RejectOffers(ctx context.Context, call Call, ids []uint64) error {
	return l.exec(ctx, "reject offers", call, func(c *callCtx) error {
		if len(ids) == 0 {
			return domain.ErrEmptyBatch
		}
		offers, err := c.ownedOffers(ids, 0)
		if err != nil {
			return err
		}
		for _, o := range offers {
			if err := c.cancelOffer(o, domain.CancelReasonRejected); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReclaimExpiredOffer lets the offer maker recover the deposit of an offer
// that expired without being accepted or rejected.
func (l *Ledger) ReclaimExpiredOffer(ctx context.Context, call Call, id uint64) error {
	return l.exec(ctx, "reclaim offer", call, func(c *callCtx) error {
		o, err := l.st.offer(id)
		if err != nil {
			return err
		}
		if o.OfferMaker != c.caller {
			return domain.ErrNotOfferMaker
		}
		if o.Terminal() {
			return domain.ErrTerminal
		}
		if c.now.Before(o.ExpiresAt) {
			return domain.ErrNotExpired
		}
		return c.cancelOffer(o, domain.CancelReasonExpired)
	})
}
