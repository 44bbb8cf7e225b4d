package ledger_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// List asset X at 100 with a 100 bps fee and buy it.
func TestListingBuySplitsPayment(t *testing.T) {
	f := newFixture(t)
	x := f.mint(seller)
	id := f.list(seller, x, 100)
	require.True(t, f.l.InCustody(f.ctx, x))
	require.Equal(t, engineAddr, f.owner(x))

	f.fund(buyer, 100)
	require.NoError(t, f.l.BuyListing(f.ctx, pay(buyer, 100), id))

	require.Equal(t, int64(99), f.balance(seller))
	require.Equal(t, int64(1), f.accrued(domain.Native()))
	require.Equal(t, int64(1), f.balance(engineAddr))
	require.Equal(t, int64(0), f.balance(buyer))
	require.Equal(t, buyer, f.owner(x))
	require.False(t, f.l.InCustody(f.ctx, x))

	lst, err := f.l.Listing(f.ctx, id)
	require.NoError(t, err)
	require.False(t, lst.Active)

	events := f.l.Events(f.ctx, 0, 0)
	sold := events[len(events)-1]
	require.Equal(t, domain.EventItemSold, sold.Kind)
	require.Equal(t, int64(100), sold.Amount.Int64())
	require.Equal(t, int64(1), sold.Fee.Int64())
	require.Equal(t, buyer, *sold.To)
}

func TestListingCreateValidation(t *testing.T) {
	f := newFixture(t)
	a := f.mint(seller)

	tests := []struct {
		name   string
		caller domain.Address
		params domain.ListingParams
		want   error
	}{
		{"zero price", seller, domain.ListingParams{Asset: a, Price: big.NewInt(0), Duration: 24 * time.Hour}, domain.ErrZeroPrice},
		{"nil price", seller, domain.ListingParams{Asset: a, Duration: 24 * time.Hour}, domain.ErrZeroPrice},
		{"too short", seller, domain.ListingParams{Asset: a, Price: big.NewInt(1), Duration: time.Minute}, domain.ErrDurationOutOfBounds},
		{"too long", seller, domain.ListingParams{Asset: a, Price: big.NewInt(1), Duration: 10_000 * time.Hour}, domain.ErrDurationOutOfBounds},
		{"not owner", buyer, domain.ListingParams{Asset: a, Price: big.NewInt(1), Duration: 24 * time.Hour}, domain.ErrNotTransferable},
		{"unknown asset", seller, domain.ListingParams{Asset: domain.NewAssetRef(assetContract, 999), Price: big.NewInt(1), Duration: 24 * time.Hour}, domain.ErrUnknownAsset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.l.CreateListing(f.ctx, call(tt.caller), tt.params)
			require.ErrorIs(t, err, tt.want)
		})
	}
	require.Equal(t, seller, f.owner(a))
}

func TestListingRequiresApproval(t *testing.T) {
	f := newFixture(t)
	a := f.mint(seller)
	require.NoError(t, f.l.SetApprovalForAll(f.ctx, call(seller), engineAddr, false))

	_, err := f.l.CreateListing(f.ctx, call(seller), domain.ListingParams{Asset: a, Price: big.NewInt(1), Duration: 24 * time.Hour})
	require.ErrorIs(t, err, domain.ErrNotApproved)
	require.True(t, errors.Is(err, domain.ErrAuthorization))
}

func TestListingAssetCannotBeListedTwice(t *testing.T) {
	f := newFixture(t)
	a := f.mint(seller)
	f.list(seller, a, 10)

	_, err := f.l.CreateListing(f.ctx, call(seller), domain.ListingParams{Asset: a, Price: big.NewInt(1), Duration: 24 * time.Hour})
	require.ErrorIs(t, err, domain.ErrAssetInEscrow)
}

func TestListingCancelIsTerminal(t *testing.T) {
	f := newFixture(t)
	a := f.mint(seller)
	id := f.list(seller, a, 100)

	require.ErrorIs(t, f.l.CancelListing(f.ctx, call(buyer), id), domain.ErrNotSeller)
	require.NoError(t, f.l.CancelListing(f.ctx, call(seller), id))
	require.Equal(t, seller, f.owner(a))
	require.False(t, f.l.InCustody(f.ctx, a))

	seq := f.l.LastSeq()
	err := f.l.CancelListing(f.ctx, call(seller), id)
	require.ErrorIs(t, err, domain.ErrNotActive)
	require.Equal(t, "state", domain.Class(err))

	f.fund(buyer, 100)
	require.ErrorIs(t, f.l.BuyListing(f.ctx, pay(buyer, 100), id), domain.ErrNotActive)
	require.Equal(t, int64(100), f.balance(buyer))
	require.Equal(t, seq, f.l.LastSeq())
}

func TestListingBuyPreconditions(t *testing.T) {
	f := newFixture(t)
	a := f.mint(seller)
	id := f.list(seller, a, 100)
	f.fund(buyer, 200)
	f.fund(seller, 100)

	require.ErrorIs(t, f.l.BuyListing(f.ctx, pay(seller, 100), id), domain.ErrSelfTrade)
	require.ErrorIs(t, f.l.BuyListing(f.ctx, pay(buyer, 99), id), domain.ErrPaymentMismatch)
	require.ErrorIs(t, f.l.BuyListing(f.ctx, pay(buyer, 101), id), domain.ErrPaymentMismatch)
	require.ErrorIs(t, f.l.BuyListing(f.ctx, pay(buyer, 100), 42), domain.ErrNotFound)
	require.Equal(t, int64(200), f.balance(buyer))

	f.clock.Advance(24 * time.Hour)
	require.ErrorIs(t, f.l.BuyListing(f.ctx, pay(buyer, 100), id), domain.ErrExpired)

	// An expired listing can still be cancelled by its seller.
	require.NoError(t, f.l.CancelListing(f.ctx, call(seller), id))
	require.Equal(t, seller, f.owner(a))
}

func TestListingUpdate(t *testing.T) {
	f := newFixture(t)
	a := f.mint(seller)
	id := f.list(seller, a, 100)
	f.clock.Advance(20 * time.Hour)

	require.ErrorIs(t, f.l.UpdateListing(f.ctx, call(buyer), id, big.NewInt(50), 24*time.Hour), domain.ErrNotSeller)
	require.ErrorIs(t, f.l.UpdateListing(f.ctx, call(seller), id, big.NewInt(0), 24*time.Hour), domain.ErrZeroPrice)
	require.NoError(t, f.l.UpdateListing(f.ctx, call(seller), id, big.NewInt(50), 24*time.Hour))

	lst, err := f.l.Listing(f.ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(50), lst.Price.Int64())
	require.Equal(t, f.clock.Now().Add(24*time.Hour), lst.ExpiresAt)

	f.fund(buyer, 50)
	f.clock.Advance(10 * time.Hour)
	require.NoError(t, f.l.BuyListing(f.ctx, pay(buyer, 50), id))
	require.ErrorIs(t, f.l.UpdateListing(f.ctx, call(seller), id, big.NewInt(70), 24*time.Hour), domain.ErrNotActive)
}

func TestListingTokenPayment(t *testing.T) {
	f := newFixture(t)
	a := f.mint(seller)
	method := domain.TokenPayment(tokenAddr)
	id, err := f.l.CreateListing(f.ctx, call(seller), domain.ListingParams{
		Asset: a, Price: big.NewInt(1_000), Payment: method, Duration: 24 * time.Hour,
	})
	require.NoError(t, err)

	f.fundToken(buyer, 999)
	require.ErrorIs(t, f.l.BuyListing(f.ctx, call(buyer), id), domain.ErrInsufficientFunds)

	f.fundToken(buyer, 1)
	f.fund(buyer, 5)
	require.ErrorIs(t, f.l.BuyListing(f.ctx, pay(buyer, 5), id), domain.ErrUnexpectedValue)
	require.NoError(t, f.l.BuyListing(f.ctx, call(buyer), id))

	require.Equal(t, int64(990), f.tokenBalance(seller))
	require.Equal(t, int64(10), f.accrued(method))
	require.Equal(t, int64(0), f.accrued(domain.Native()))
	require.Equal(t, int64(5), f.balance(buyer))
	require.Equal(t, buyer, f.owner(a))
}

func TestCreateListingsPartialSuccess(t *testing.T) {
	f := newFixture(t)
	a1 := f.mint(seller)
	foreign := f.mint(buyer)
	a3 := f.mint(seller)

	params := func(a domain.AssetRef) domain.ListingParams {
		return domain.ListingParams{Asset: a, Price: big.NewInt(10), Duration: 24 * time.Hour}
	}
	results, err := f.l.CreateListings(f.ctx, call(seller), []domain.ListingParams{
		params(a1),
		params(foreign),
		{Asset: a3, Price: big.NewInt(0), Duration: 24 * time.Hour},
		params(a3),
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	require.True(t, results[0].OK())
	require.Equal(t, uint64(1), results[0].ID)
	require.ErrorIs(t, results[1].Err, domain.ErrNotTransferable)
	require.Zero(t, results[1].ID)
	require.ErrorIs(t, results[2].Err, domain.ErrZeroPrice)
	require.True(t, results[3].OK())
	require.Equal(t, uint64(2), results[3].ID)

	require.Equal(t, engineAddr, f.owner(a1))
	require.Equal(t, buyer, f.owner(foreign))
	require.Equal(t, engineAddr, f.owner(a3))
	_, err = f.l.Listing(f.ctx, 3)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateListingsBatchBounds(t *testing.T) {
	f := newFixture(t, func(c *ledgerConfig) { c.Limits = domain.DefaultLimits(); c.Limits.MaxBulkEntries = 2 })

	_, err := f.l.CreateListings(f.ctx, call(seller), nil)
	require.ErrorIs(t, err, domain.ErrEmptyBatch)

	entries := make([]domain.ListingParams, 3)
	_, err = f.l.CreateListings(f.ctx, call(seller), entries)
	require.ErrorIs(t, err, domain.ErrBatchTooLarge)
}
