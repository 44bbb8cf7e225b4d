package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// settle executes one signature-authorized trade for the caller as buyer.
func (c *callCtx) settle(auth domain.Authorization, sig []byte) error {
	l := c.l
	auth.Buyer = c.caller
	if auth.Price == nil || auth.Price.Sign() <= 0 {
		return domain.ErrZeroPrice
	}
	if err := auth.Asset.Validate(); err != nil {
		return err
	}
	if auth.Seller == auth.Buyer {
		return domain.ErrSelfTrade
	}
	if l.st.signer == domain.ZeroAddress || l.verifier == nil {
		return domain.ErrSignerNotSet
	}
	signer, err := l.verifier.Recover(auth, sig)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrBadSignature, err)
	}
	if signer != l.st.signer {
		return fmt.Errorf("%w: signed by %s", domain.ErrBadSignature, signer.Hex())
	}

	if err := c.collect(auth.Payment, auth.Price); err != nil {
		return err
	}
	payout, fee, err := l.paySale(auth.Payment, auth.Seller, auth.Price, l.st.fees.PlatformFeeBps)
	if err != nil {
		return err
	}
	asset := auth.Asset.Clone()
	c.emit(domain.Event{
		Kind:    domain.EventSignatureSale,
		Asset:   &asset,
		From:    domain.AddrPtr(auth.Seller),
		To:      domain.AddrPtr(auth.Buyer),
		Amount:  new(big.Int).Add(payout, fee),
		Fee:     fee,
		Payment: auth.Payment,
	})
	return c.deliver(auth.Seller, auth.Buyer, auth.Asset)
}

// Settle redeems a trusted-signer authorization. The caller is the buyer; the
// signature binds the caller's address, so it only verifies for the buyer it
// was issued to. The asset moves straight from the seller, so once it has
// moved the same authorization can no longer settle.
func (l *Ledger) Settle(ctx context.Context, call Call, auth domain.Authorization, sig []byte) error {
	return l.exec(ctx, "settle", call, func(c *callCtx) error {
		return c.settle(auth, sig)
	})
}

// SettleBulk redeems several authorizations for the caller. The arrays must be
// the same non-empty length and the attached native value must equal the sum
// of the native-priced entries, or the whole call fails. Each entry then
// commits or fails on its own; a failed entry's payment is undone and its
// native share is refunded to the caller when the call completes. Entries that
// succeeded are never rolled back by a later failure.
func (l *Ledger) SettleBulk(ctx context.Context, call Call, auths []domain.Authorization, sigs [][]byte) ([]domain.EntryResult, error) {
	var results []domain.EntryResult
	err := l.exec(ctx, "settle bulk", call, func(c *callCtx) error {
		if len(auths) != len(sigs) {
			return fmt.Errorf("%w: %d authorizations, %d signatures", domain.ErrLengthMismatch, len(auths), len(sigs))
		}
		if len(auths) == 0 {
			return domain.ErrEmptyBatch
		}
		if limit := l.st.limits.MaxBulkEntries; len(auths) > limit {
			return fmt.Errorf("%w: %d entries, max %d", domain.ErrBatchTooLarge, len(auths), limit)
		}

		total := new(big.Int)
		for i, a := range auths {
			if a.Price == nil || a.Price.Sign() <= 0 {
				return fmt.Errorf("entry %d: %w", i, domain.ErrZeroPrice)
			}
			if a.Payment.IsNative() {
				total.Add(total, a.Price)
			}
		}
		if c.value.Cmp(total) != 0 {
			return fmt.Errorf("%w: entries total %s, attached %s", domain.ErrPaymentMismatch, total, c.value)
		}

		refund := new(big.Int)
		results = make([]domain.EntryResult, len(auths))
		for i, a := range auths {
			share := new(big.Int)
			if a.Payment.IsNative() {
				share.Set(a.Price)
			}
			c.value = new(big.Int).Set(share)
			sp := l.tx.savepoint()
			err := c.settle(a, sigs[i])
			if err != nil {
				l.tx.rollbackTo(sp)
				refund.Add(refund, share)
			}
			results[i] = domain.EntryResult{Index: i, Err: err}
		}
		c.value = new(big.Int)
		return l.transferPayment(domain.Native(), l.engine, c.caller, refund)
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
