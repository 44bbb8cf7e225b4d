package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/ledger"
	"github.com/alanyoungcy/escrowd/internal/metrics"
)

func TestMarketServiceIssueAndSettle(t *testing.T) {
	l, signer := newEngine(t, nil)
	assets := seed(t, l, 1)
	svc := NewMarketService(l, nil, nil, signer, metrics.New(), quietLogger())
	ctx := context.Background()

	sa, err := svc.IssueAuthorization(domain.Authorization{
		Seller:  seller,
		Buyer:   buyer,
		Asset:   assets[0],
		Price:   big.NewInt(200),
		Payment: domain.Native(),
	})
	require.NoError(t, err)
	require.Len(t, sa.Signature, 65)

	require.NoError(t, svc.Settle(ctx, ledger.Call{Caller: buyer, Value: big.NewInt(200)}, sa))

	view, err := svc.Asset(context.Background(), assets[0])
	require.NoError(t, err)
	require.Equal(t, buyer, view.Owner)
	require.False(t, view.InCustody)

	bal := svc.Balances(context.Background(), seller, nil)
	require.Equal(t, int64(198), bal[domain.Native()].Int64())
	require.Equal(t, int64(2), svc.FeeAccount(context.Background()).Accumulated[domain.Native()].Int64())

	err = svc.Settle(ctx, ledger.Call{Caller: buyer, Value: big.NewInt(200)}, sa)
	require.ErrorIs(t, err, domain.ErrNotTransferable)
}

func TestMarketServiceWithoutIssuer(t *testing.T) {
	l, _ := newEngine(t, nil)
	svc := NewMarketService(l, nil, nil, nil, nil, quietLogger())

	_, err := svc.IssueAuthorization(domain.Authorization{})
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = svc.ActiveListings(context.Background(), domain.ListOpts{})
	require.ErrorIs(t, err, ErrUnavailable)

	_, err = svc.OffersForOwner(context.Background(), seller, domain.ListOpts{})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestMarketServiceEventsFallBackToStore(t *testing.T) {
	l, _ := newEngine(t, nil)
	assets := seed(t, l, 1)
	stored := &memEvents{events: []domain.Event{
		{Seq: 1, Kind: domain.EventListingCreated},
		{Seq: 2, Kind: domain.EventListingCancelled},
		{Seq: 3, Kind: domain.EventListingCreated},
	}}
	svc := NewMarketService(l, nil, stored, nil, nil, quietLogger())
	ctx := context.Background()

	_, err := svc.CreateListing(ctx, ledger.Call{Caller: seller}, listParams(assets[0], 10))
	require.NoError(t, err)

	live, err := svc.Events(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, live, 1)

	older, err := svc.Events(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, older, 2)
	require.Equal(t, uint64(2), older[0].Seq)
}

func TestMarketServiceSnapshotReads(t *testing.T) {
	snaps := newMemSnapshots()
	d := NewDispatcher(Sinks{Snapshots: snaps}, 0, quietLogger())
	l, _ := newEngine(t, d.Hook())
	assets := seed(t, l, 1, 2)
	svc := NewMarketService(l, snaps, nil, nil, nil, quietLogger())
	ctx := context.Background()

	_, err := svc.CreateListing(ctx, ledger.Call{Caller: seller}, listParams(assets[0], 10))
	require.NoError(t, err)
	_, err = svc.MakeOffer(ctx, ledger.Call{Caller: buyer, Value: big.NewInt(30)}, domain.OfferParams{
		AssetOwner: seller,
		Asset:      assets[1],
		Price:      big.NewInt(30),
		Payment:    domain.Native(),
		ExpiresAt:  t0.AddDate(0, 0, 2),
	})
	require.NoError(t, err)
	drain(t, d)

	active, err := svc.ActiveListings(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, active, 1)

	offers, err := svc.OffersForOwner(ctx, seller, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	require.Equal(t, buyer, offers[0].OfferMaker)
}

func TestLedgerEventsSource(t *testing.T) {
	l, _ := newEngine(t, nil)
	assets := seed(t, l, 1, 2)
	for _, a := range assets {
		_, err := l.CreateListing(context.Background(), ledger.Call{Caller: seller}, listParams(a, 10))
		require.NoError(t, err)
	}
	got, err := LedgerEvents{L: l}.List(context.Background(), 2, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, uint64(2), got[0].Seq)
}
