package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// Split divides amount into the seller payout and the platform fee. The fee
// rounds down; the remainder stays with the payout.
func Split(amount *big.Int, bps uint32) (payout, fee *big.Int) {
	fee = new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	fee.Quo(fee, big.NewInt(domain.BpsDenominator))
	payout = new(big.Int).Sub(amount, fee)
	return payout, fee
}

// accrue credits fee to the platform account. The funds themselves already
// sit in the engine's balance.
func (l *Ledger) accrue(method domain.PaymentMethod, fee *big.Int) {
	if fee.Sign() == 0 {
		return
	}
	acc := l.st.fees.Accumulated
	prev, had := acc[method]
	next := new(big.Int).Add(domain.CloneInt(prev), fee)
	acc[method] = next
	l.tx.record(func() {
		if had {
			acc[method] = prev
		} else {
			delete(acc, method)
		}
	})
}

// paySale routes a sale price held by the engine: payout to the seller and the
// fee to the platform account.
func (l *Ledger) paySale(method domain.PaymentMethod, seller domain.Address, price *big.Int, bps uint32) (payout, fee *big.Int, err error) {
	payout, fee = Split(price, bps)
	if err := l.transferPayment(method, l.engine, seller, payout); err != nil {
		return nil, nil, err
	}
	l.accrue(method, fee)
	return payout, fee, nil
}

func (c *callCtx) requireAdmin() error {
	if c.caller != c.l.admin {
		return domain.ErrNotAdmin
	}
	return nil
}

func (l *Ledger) setFees(platform, offer uint32) {
	prev := l.st.fees
	l.st.fees.PlatformFeeBps = platform
	l.st.fees.OfferFeeBps = offer
	l.tx.record(func() {
		l.st.fees.PlatformFeeBps = prev.PlatformFeeBps
		l.st.fees.OfferFeeBps = prev.OfferFeeBps
	})
}

// SetFee sets the fee rate charged on listing, auction and signature sales.
func (l *Ledger) SetFee(ctx context.Context, call Call, bps uint32) error {
	return l.exec(ctx, "set fee", call, func(c *callCtx) error {
		if err := c.requireAdmin(); err != nil {
			return err
		}
		if bps > domain.MaxFeeBps {
			return fmt.Errorf("%w: %d bps", domain.ErrFeeTooHigh, bps)
		}
		prev := l.st.fees.PlatformFeeBps
		l.setFees(bps, l.st.fees.OfferFeeBps)
		c.emit(domain.Event{
			Kind:   domain.EventFeeUpdated,
			Amount: new(big.Int).SetUint64(uint64(bps)),
			Reason: fmt.Sprintf("platform fee %d -> %d bps", prev, bps),
		})
		return nil
	})
}

// SetOfferFee sets the fee rate charged on accepted offers.
func (l *Ledger) SetOfferFee(ctx context.Context, call Call, bps uint32) error {
	return l.exec(ctx, "set offer fee", call, func(c *callCtx) error {
		if err := c.requireAdmin(); err != nil {
			return err
		}
		if bps > domain.MaxFeeBps {
			return fmt.Errorf("%w: %d bps", domain.ErrFeeTooHigh, bps)
		}
		prev := l.st.fees.OfferFeeBps
		l.setFees(l.st.fees.PlatformFeeBps, bps)
		c.emit(domain.Event{
			Kind:   domain.EventFeeUpdated,
			Amount: new(big.Int).SetUint64(uint64(bps)),
			Reason: fmt.Sprintf("offer fee %d -> %d bps", prev, bps),
		})
		return nil
	})
}

// SetLimits replaces the duration and batch limits.
func (l *Ledger) SetLimits(ctx context.Context, call Call, limits domain.Limits) error {
	return l.exec(ctx, "set limits", call, func(c *callCtx) error {
		if err := c.requireAdmin(); err != nil {
			return err
		}
		if err := limits.Validate(); err != nil {
			return err
		}
		prev := l.st.limits
		l.st.limits = limits
		l.tx.record(func() { l.st.limits = prev })
		c.emit(domain.Event{Kind: domain.EventLimitsUpdated})
		return nil
	})
}

// SetTrustedSigner replaces the signer whose authorizations Settle accepts.
func (l *Ledger) SetTrustedSigner(ctx context.Context, call Call, signer domain.Address) error {
	return l.exec(ctx, "set trusted signer", call, func(c *callCtx) error {
		if err := c.requireAdmin(); err != nil {
			return err
		}
		if signer == domain.ZeroAddress {
			return fmt.Errorf("signer: %w", domain.ErrZeroAddress)
		}
		prev := l.st.signer
		l.st.signer = signer
		l.tx.record(func() { l.st.signer = prev })
		c.emit(domain.Event{Kind: domain.EventSignerUpdated, From: domain.AddrPtr(prev), To: domain.AddrPtr(signer)})
		return nil
	})
}

// WithdrawFees pays amount of accrued platform revenue in method to the admin.
func (l *Ledger) WithdrawFees(ctx context.Context, call Call, method domain.PaymentMethod, amount *big.Int) error {
	return l.exec(ctx, "withdraw fees", call, func(c *callCtx) error {
		if err := c.requireAdmin(); err != nil {
			return err
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
		}
		acc := l.st.fees.Accumulated
		prev := domain.CloneInt(acc[method])
		if amount.Cmp(prev) > 0 {
			return fmt.Errorf("%w: requested %s, accrued %s", domain.ErrNothingToWithdraw, amount, prev)
		}
		old, had := acc[method]
		acc[method] = new(big.Int).Sub(prev, amount)
		l.tx.record(func() {
			if had {
				acc[method] = old
			} else {
				delete(acc, method)
			}
		})
		if err := l.transferPayment(method, l.engine, l.admin, amount); err != nil {
			return err
		}
		c.emit(domain.Event{
			Kind:    domain.EventFeesWithdrawn,
			To:      domain.AddrPtr(l.admin),
			Amount:  new(big.Int).Set(amount),
			Payment: method,
		})
		return nil
	})
}
