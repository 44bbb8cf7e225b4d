package ledger_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

func (f *fixture) authorize(s, b domain.Address, a domain.AssetRef, price int64) (domain.Authorization, []byte) {
	f.t.Helper()
	auth := domain.Authorization{
		Seller:  s,
		Buyer:   b,
		Asset:   a,
		Price:   big.NewInt(price),
		Payment: domain.Native(),
	}
	sig, err := f.signer.SignAuthorization(auth)
	require.NoError(f.t, err)
	return auth, sig
}

// Authorization (S, B, V, 40, native) signed by the trusted signer.
func TestSettleOnceThenReplayFails(t *testing.T) {
	f := newFixture(t)
	v := f.mint(seller)
	auth, sig := f.authorize(seller, buyer, v, 40)
	f.fund(buyer, 80)

	require.NoError(t, f.l.Settle(f.ctx, pay(buyer, 40), auth, sig))
	require.Equal(t, buyer, f.owner(v))
	require.Equal(t, int64(40), f.balance(seller), "fee of 40 at 100 bps floors to zero")
	require.Equal(t, int64(40), f.balance(buyer))
	require.False(t, f.l.InCustody(f.ctx, v))

	events := f.l.Events(f.ctx, 0, 0)
	sale := events[len(events)-1]
	require.Equal(t, domain.EventSignatureSale, sale.Kind)
	require.Equal(t, seller, *sale.From)
	require.Equal(t, buyer, *sale.To)

	err := f.l.Settle(f.ctx, pay(buyer, 40), auth, sig)
	require.ErrorIs(t, err, domain.ErrNotTransferable)
	require.Equal(t, "authorization", domain.Class(err))
	require.Equal(t, int64(40), f.balance(buyer))
	require.Equal(t, int64(40), f.balance(seller))
}

func TestSettleRejectsForeignSignatures(t *testing.T) {
	f := newFixture(t)
	v := f.mint(seller)
	auth, sig := f.authorize(seller, buyer, v, 40)
	f.fund(buyer2, 40)
	f.fund(buyer, 40)

	// The signature binds the buyer, so nobody else can redeem it.
	require.ErrorIs(t, f.l.Settle(f.ctx, pay(buyer2, 40), auth, sig), domain.ErrBadSignature)

	tampered := auth
	tampered.Price = big.NewInt(39)
	require.ErrorIs(t, f.l.Settle(f.ctx, pay(buyer, 39), tampered, sig), domain.ErrBadSignature)

	require.ErrorIs(t, f.l.Settle(f.ctx, pay(buyer, 40), auth, sig[:10]), domain.ErrBadSignature)

	other := newFixture(t)
	_, foreign := other.authorize(seller, buyer, v, 40)
	require.ErrorIs(t, f.l.Settle(f.ctx, pay(buyer, 40), auth, foreign), domain.ErrBadSignature)

	require.Equal(t, seller, f.owner(v))
	require.Equal(t, int64(40), f.balance(buyer2))
}

func TestSettleAfterSignerRotation(t *testing.T) {
	f := newFixture(t)
	v := f.mint(seller)
	auth, sig := f.authorize(seller, buyer, v, 40)
	f.fund(buyer, 40)

	require.NoError(t, f.l.SetTrustedSigner(f.ctx, call(adminAddr), buyer4))
	require.ErrorIs(t, f.l.Settle(f.ctx, pay(buyer, 40), auth, sig), domain.ErrBadSignature)

	require.NoError(t, f.l.SetTrustedSigner(f.ctx, call(adminAddr), f.signer.Address()))
	require.NoError(t, f.l.Settle(f.ctx, pay(buyer, 40), auth, sig))
}

func TestSettleSelfTrade(t *testing.T) {
	f := newFixture(t)
	v := f.mint(seller)
	auth, sig := f.authorize(seller, seller, v, 40)
	f.fund(seller, 40)
	require.ErrorIs(t, f.l.Settle(f.ctx, pay(seller, 40), auth, sig), domain.ErrSelfTrade)
}

func TestSettleBulkPartialSuccessRefundsFailedShare(t *testing.T) {
	f := newFixture(t)
	a1 := f.mint(seller)
	a2 := f.mint(buyer3)
	a3 := f.mint(seller)

	auth1, sig1 := f.authorize(seller, buyer, a1, 10)
	auth2, sig2 := f.authorize(buyer3, buyer, a2, 20)
	auth3, _ := f.authorize(seller, buyer, a3, 30)
	f.fund(buyer, 60)

	// a2 is listed, so its seller no longer holds it at settlement time.
	f.list(buyer3, a2, 99)

	results, err := f.l.SettleBulk(f.ctx, pay(buyer, 60),
		[]domain.Authorization{auth1, auth2, auth3},
		[][]byte{sig1, sig2, sig1},
	)
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.True(t, results[0].OK())
	require.ErrorIs(t, results[1].Err, domain.ErrNotTransferable)
	require.ErrorIs(t, results[2].Err, domain.ErrBadSignature)

	require.Equal(t, buyer, f.owner(a1))
	require.Equal(t, engineAddr, f.owner(a2))
	require.Equal(t, seller, f.owner(a3))
	require.Equal(t, int64(50), f.balance(buyer), "failed shares come back")
	require.Equal(t, int64(10), f.balance(seller))
	require.Equal(t, int64(0), f.balance(buyer3))
	require.Equal(t, int64(0), f.balance(engineAddr))

	last := f.commits[len(f.commits)-1]
	require.Len(t, last.Events, 1)
	require.Equal(t, domain.EventSignatureSale, last.Events[0].Kind)
}

func TestSettleBulkValidation(t *testing.T) {
	f := newFixture(t)
	a1 := f.mint(seller)
	auth1, sig1 := f.authorize(seller, buyer, a1, 10)
	f.fund(buyer, 100)

	tests := []struct {
		name  string
		value int64
		auths []domain.Authorization
		sigs  [][]byte
		want  error
	}{
		{"length mismatch", 10, []domain.Authorization{auth1}, nil, domain.ErrLengthMismatch},
		{"empty", 0, nil, nil, domain.ErrEmptyBatch},
		{"value short", 9, []domain.Authorization{auth1}, [][]byte{sig1}, domain.ErrPaymentMismatch},
		{"value over", 11, []domain.Authorization{auth1}, [][]byte{sig1}, domain.ErrPaymentMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.l.SettleBulk(f.ctx, pay(buyer, tt.value), tt.auths, tt.sigs)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, int64(100), f.balance(buyer))
			require.Equal(t, seller, f.owner(a1))
		})
	}
}

func TestSettleBulkMixedPayment(t *testing.T) {
	f := newFixture(t)
	a1 := f.mint(seller)
	a2 := f.mint(seller)
	auth1, sig1 := f.authorize(seller, buyer, a1, 10)

	auth2 := domain.Authorization{
		Seller:  seller,
		Buyer:   buyer,
		Asset:   a2,
		Price:   big.NewInt(500),
		Payment: domain.TokenPayment(tokenAddr),
	}
	sig2, err := f.signer.SignAuthorization(auth2)
	require.NoError(t, err)

	f.fund(buyer, 10)
	f.fundToken(buyer, 500)
	results, err := f.l.SettleBulk(f.ctx, pay(buyer, 10),
		[]domain.Authorization{auth1, auth2},
		[][]byte{sig1, sig2},
	)
	require.NoError(t, err)
	require.True(t, results[0].OK())
	require.True(t, results[1].OK())
	require.Equal(t, int64(495), f.tokenBalance(seller))
	require.Equal(t, int64(5), f.accrued(domain.TokenPayment(tokenAddr)))
	require.Equal(t, buyer, f.owner(a2))
}
