package ledger_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowd/internal/crypto"
	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/ledger"
)

var (
	engineAddr    = common.HexToAddress("0x00000000000000000000000000000000000e5c40")
	adminAddr     = common.HexToAddress("0x00000000000000000000000000000000000ad111")
	assetContract = common.HexToAddress("0x0000000000000000000000000000000000a55e75")
	tokenAddr     = common.HexToAddress("0x00000000000000000000000000000000000070c0")

	seller = addr(0x51)
	buyer  = addr(0xb1)
	buyer2 = addr(0xb2)
	buyer3 = addr(0xb3)
	buyer4 = addr(0xb4)

	t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

type ledgerConfig = ledger.Config

func addr(n int64) common.Address { return common.BigToAddress(big.NewInt(n)) }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	t       *testing.T
	ctx     context.Context
	l       *ledger.Ledger
	clock   *fakeClock
	signer  *crypto.Signer
	commits []ledger.Commit
	tokenID int64
}

func newFixture(t *testing.T, opts ...func(*ledger.Config)) *fixture {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	dom := crypto.Domain{ChainID: big.NewInt(31337), Engine: engineAddr}

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		clock:  &fakeClock{now: t0},
		signer: crypto.NewSignerFromKey(pk, dom),
	}
	cfg := ledger.Config{
		Engine:         engineAddr,
		Admin:          adminAddr,
		TrustedSigner:  f.signer.Address(),
		PlatformFeeBps: 100,
		OfferFeeBps:    100,
	}
	for _, o := range opts {
		o(&cfg)
	}
	f.l, err = ledger.New(cfg, crypto.NewVerifier(dom),
		ledger.WithClock(f.clock),
		ledger.WithCommitHook(func(c ledger.Commit) { f.commits = append(f.commits, c) }),
	)
	require.NoError(t, err)
	return f
}

// mint registers a fresh asset for owner and approves the engine.
func (f *fixture) mint(owner common.Address) domain.AssetRef {
	f.t.Helper()
	f.tokenID++
	a := domain.NewAssetRef(assetContract, f.tokenID)
	require.NoError(f.t, f.l.RegisterAsset(a, owner))
	require.NoError(f.t, f.l.SetApprovalForAll(f.ctx, call(owner), engineAddr, true))
	return a
}

func (f *fixture) fund(account common.Address, amount int64) {
	f.t.Helper()
	require.NoError(f.t, f.l.Fund(account, domain.Native(), big.NewInt(amount)))
}

func (f *fixture) fundToken(account common.Address, amount int64) {
	f.t.Helper()
	require.NoError(f.t, f.l.Fund(account, domain.TokenPayment(tokenAddr), big.NewInt(amount)))
}

func (f *fixture) balance(account common.Address) int64 {
	return f.l.BalanceOf(f.ctx, account, domain.Native()).Int64()
}

func (f *fixture) tokenBalance(account common.Address) int64 {
	return f.l.BalanceOf(f.ctx, account, domain.TokenPayment(tokenAddr)).Int64()
}

func (f *fixture) owner(a domain.AssetRef) common.Address {
	f.t.Helper()
	o, err := f.l.OwnerOf(f.ctx, a)
	require.NoError(f.t, err)
	return o
}

func (f *fixture) accrued(method domain.PaymentMethod) int64 {
	v := f.l.FeeAccount(f.ctx).Accumulated[method]
	if v == nil {
		return 0
	}
	return v.Int64()
}

func (f *fixture) list(from common.Address, a domain.AssetRef, price int64) uint64 {
	f.t.Helper()
	id, err := f.l.CreateListing(f.ctx, call(from), domain.ListingParams{
		Asset:    a,
		Price:    big.NewInt(price),
		Payment:  domain.Native(),
		Duration: 24 * time.Hour,
	})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) kinds() []domain.EventKind {
	var out []domain.EventKind
	for _, e := range f.l.Events(f.ctx, 0, 0) {
		out = append(out, e.Kind)
	}
	return out
}

func call(caller common.Address) ledger.Call {
	return ledger.Call{Caller: caller}
}

func pay(caller common.Address, v int64) ledger.Call {
	return ledger.Call{Caller: caller, Value: big.NewInt(v)}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		amount, bps      int64
		wantPay, wantFee int64
	}{
		{100, 100, 99, 1},
		{60, 100, 60, 0},
		{60, 200, 59, 1},
		{1, 1000, 1, 0},
		{10_000, 1000, 9_000, 1_000},
		{12_345, 250, 12_037, 308},
		{0, 500, 0, 0},
	}
	for _, tt := range tests {
		payout, fee := ledger.Split(big.NewInt(tt.amount), uint32(tt.bps))
		require.Equal(t, tt.wantPay, payout.Int64(), "payout of %d at %d bps", tt.amount, tt.bps)
		require.Equal(t, tt.wantFee, fee.Int64(), "fee of %d at %d bps", tt.amount, tt.bps)
		require.Equal(t, tt.amount, new(big.Int).Add(payout, fee).Int64())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := ledger.New(ledger.Config{Admin: adminAddr}, nil)
	require.ErrorIs(t, err, domain.ErrZeroAddress)

	_, err = ledger.New(ledger.Config{Engine: engineAddr, Admin: adminAddr, PlatformFeeBps: 1001}, nil)
	require.ErrorIs(t, err, domain.ErrFeeTooHigh)

	l, err := ledger.New(ledger.Config{Engine: engineAddr, Admin: adminAddr}, nil)
	require.NoError(t, err)
	require.Equal(t, domain.DefaultLimits(), l.Limits(context.Background()))
}

func TestCallRequiresCaller(t *testing.T) {
	f := newFixture(t)
	err := f.l.SetApprovalForAll(f.ctx, ledger.Call{}, engineAddr, true)
	require.ErrorIs(t, err, domain.ErrZeroAddress)
}

func TestUnconsumedValueRevertsCall(t *testing.T) {
	f := newFixture(t)
	a := f.mint(seller)
	f.fund(seller, 10)

	_, err := f.l.CreateListing(f.ctx, pay(seller, 10), domain.ListingParams{
		Asset: a, Price: big.NewInt(5), Duration: 24 * time.Hour,
	})
	require.ErrorIs(t, err, domain.ErrUnexpectedValue)
	require.Equal(t, int64(10), f.balance(seller))
	require.Equal(t, seller, f.owner(a))
	require.False(t, f.l.InCustody(f.ctx, a))
}

func TestInsufficientValueFails(t *testing.T) {
	f := newFixture(t)
	a := f.mint(seller)
	id := f.list(seller, a, 100)
	f.fund(buyer, 50)

	err := f.l.BuyListing(f.ctx, pay(buyer, 100), id)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.True(t, domain.Class(err) == "payment")
}

func TestCanceledContextIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.l.SetApprovalForAll(ctx, call(seller), engineAddr, true)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCommitHookReceivesSnapshots(t *testing.T) {
	f := newFixture(t)
	a := f.mint(seller)
	id := f.list(seller, a, 100)
	f.fund(buyer, 100)
	require.NoError(t, f.l.BuyListing(f.ctx, pay(buyer, 100), id))

	last := f.commits[len(f.commits)-1]
	require.Equal(t, "buy listing", last.Op)
	require.Equal(t, buyer, last.Caller)
	require.Len(t, last.Events, 1)
	require.Equal(t, domain.EventItemSold, last.Events[0].Kind)
	require.Len(t, last.Listings, 1)
	require.False(t, last.Listings[0].Active)

	events := f.l.Events(f.ctx, 0, 0)
	for i, e := range events {
		require.Equal(t, uint64(i+1), e.Seq)
	}
	require.Equal(t, uint64(len(events)), f.l.LastSeq())
	require.Len(t, f.l.Events(f.ctx, 2, 1), 1)
	require.Nil(t, f.l.Events(f.ctx, 99, 0))
}

func TestFailedCallEmitsNothing(t *testing.T) {
	f := newFixture(t)
	a := f.mint(seller)
	id := f.list(seller, a, 100)
	before := f.l.LastSeq()
	commits := len(f.commits)

	require.Error(t, f.l.CancelListing(f.ctx, call(buyer), id))
	require.Equal(t, before, f.l.LastSeq())
	require.Len(t, f.commits, commits)
}
