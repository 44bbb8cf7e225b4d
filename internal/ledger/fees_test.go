package ledger_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

func TestAdminOperationsRequireAdmin(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		run  func() error
	}{
		{"set fee", func() error { return f.l.SetFee(f.ctx, call(seller), 50) }},
		{"set offer fee", func() error { return f.l.SetOfferFee(f.ctx, call(seller), 50) }},
		{"set limits", func() error { return f.l.SetLimits(f.ctx, call(seller), domain.DefaultLimits()) }},
		{"set signer", func() error { return f.l.SetTrustedSigner(f.ctx, call(seller), buyer) }},
		{"withdraw", func() error { return f.l.WithdrawFees(f.ctx, call(seller), domain.Native(), big.NewInt(1)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.ErrorIs(t, err, domain.ErrNotAdmin)
			require.Equal(t, "authorization", domain.Class(err))
		})
	}
	require.Zero(t, f.l.LastSeq())
}

func TestSetFeeBounds(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.l.SetFee(f.ctx, call(adminAddr), domain.MaxFeeBps+1), domain.ErrFeeTooHigh)
	require.ErrorIs(t, f.l.SetOfferFee(f.ctx, call(adminAddr), 5_000), domain.ErrFeeTooHigh)

	require.NoError(t, f.l.SetFee(f.ctx, call(adminAddr), domain.MaxFeeBps))
	require.NoError(t, f.l.SetOfferFee(f.ctx, call(adminAddr), 0))
	acc := f.l.FeeAccount(f.ctx)
	require.Equal(t, domain.MaxFeeBps, acc.PlatformFeeBps)
	require.Zero(t, acc.OfferFeeBps)
	require.Equal(t, []domain.EventKind{domain.EventFeeUpdated, domain.EventFeeUpdated}, f.kinds())

	a := f.mint(seller)
	id := f.list(seller, a, 1_000)
	f.fund(buyer, 1_000)
	require.NoError(t, f.l.BuyListing(f.ctx, pay(buyer, 1_000), id))
	require.Equal(t, int64(900), f.balance(seller))
	require.Equal(t, int64(100), f.accrued(domain.Native()))
}

func TestWithdrawFees(t *testing.T) {
	f := newFixture(t)
	a := f.mint(seller)
	id := f.list(seller, a, 500)
	f.fund(buyer, 500)
	require.NoError(t, f.l.BuyListing(f.ctx, pay(buyer, 500), id))
	require.Equal(t, int64(5), f.accrued(domain.Native()))

	require.ErrorIs(t, f.l.WithdrawFees(f.ctx, call(adminAddr), domain.Native(), big.NewInt(6)), domain.ErrNothingToWithdraw)
	require.ErrorIs(t, f.l.WithdrawFees(f.ctx, call(adminAddr), domain.Native(), big.NewInt(0)), domain.ErrValidation)
	require.ErrorIs(t, f.l.WithdrawFees(f.ctx, call(adminAddr), domain.TokenPayment(tokenAddr), big.NewInt(1)), domain.ErrNothingToWithdraw)

	require.NoError(t, f.l.WithdrawFees(f.ctx, call(adminAddr), domain.Native(), big.NewInt(3)))
	require.Equal(t, int64(3), f.balance(adminAddr))
	require.Equal(t, int64(2), f.accrued(domain.Native()))
	require.Equal(t, int64(2), f.balance(engineAddr))

	require.NoError(t, f.l.WithdrawFees(f.ctx, call(adminAddr), domain.Native(), big.NewInt(2)))
	require.Zero(t, f.accrued(domain.Native()))
	require.Zero(t, f.balance(engineAddr))
}

func TestSetLimits(t *testing.T) {
	f := newFixture(t)

	bad := domain.DefaultLimits()
	bad.MaxListingDuration = bad.MinListingDuration - time.Second
	require.ErrorIs(t, f.l.SetLimits(f.ctx, call(adminAddr), bad), domain.ErrInvalidLimits)

	next := domain.DefaultLimits()
	next.MinListingDuration = 2 * time.Hour
	require.NoError(t, f.l.SetLimits(f.ctx, call(adminAddr), next))
	require.Equal(t, next, f.l.Limits(f.ctx))

	a := f.mint(seller)
	_, err := f.l.CreateListing(f.ctx, call(seller), domain.ListingParams{Asset: a, Price: big.NewInt(1), Duration: time.Hour})
	require.ErrorIs(t, err, domain.ErrDurationOutOfBounds)
}

func TestSetTrustedSigner(t *testing.T) {
	f := newFixture(t)
	prev := f.l.TrustedSigner(f.ctx)

	require.ErrorIs(t, f.l.SetTrustedSigner(f.ctx, call(adminAddr), domain.ZeroAddress), domain.ErrZeroAddress)
	require.NoError(t, f.l.SetTrustedSigner(f.ctx, call(adminAddr), buyer4))
	require.Equal(t, buyer4, f.l.TrustedSigner(f.ctx))

	events := f.l.Events(f.ctx, 0, 0)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventSignerUpdated, events[0].Kind)
	require.Equal(t, prev, *events[0].From)
	require.Equal(t, buyer4, *events[0].To)
}
