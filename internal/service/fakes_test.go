package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
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
	seller        = common.HexToAddress("0x51")
	buyer         = common.HexToAddress("0xb1")

	t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

// newEngine builds a ledger with a 1% fee, a fresh issuer key and the given
// commit hook.
func newEngine(t *testing.T, hook ledger.CommitHook) (*ledger.Ledger, *crypto.Signer) {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	dom := crypto.Domain{ChainID: big.NewInt(31337), Engine: engineAddr}
	signer := crypto.NewSignerFromKey(pk, dom)

	opts := []ledger.Option{
		ledger.WithClock(&fixedClock{now: t0}),
		ledger.WithLogger(quietLogger()),
	}
	if hook != nil {
		opts = append(opts, ledger.WithCommitHook(hook))
	}
	l, err := ledger.New(ledger.Config{
		Engine:         engineAddr,
		Admin:          adminAddr,
		TrustedSigner:  signer.Address(),
		PlatformFeeBps: 100,
		OfferFeeBps:    100,
	}, crypto.NewVerifier(dom), opts...)
	require.NoError(t, err)
	return l, signer
}

func seed(t *testing.T, l *ledger.Ledger, tokenIDs ...int64) []domain.AssetRef {
	t.Helper()
	g := Genesis{
		Balances:  []GenesisBalance{{Account: buyer, Payment: domain.Native(), Amount: big.NewInt(1_000)}},
		Approvals: []domain.Address{seller},
	}
	var assets []domain.AssetRef
	for _, id := range tokenIDs {
		a := domain.NewAssetRef(assetContract, id)
		assets = append(assets, a)
		g.Assets = append(g.Assets, GenesisAsset{Asset: a, Owner: seller})
	}
	require.NoError(t, SeedGenesis(context.Background(), l, g))
	return assets
}

type memEvents struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (m *memEvents) Append(_ context.Context, events []domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *memEvents) List(_ context.Context, from uint64, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, e := range m.events {
		if e.Seq >= from && (limit <= 0 || len(out) < limit) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEvents) LastSeq(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return 0, nil
	}
	return m.events[len(m.events)-1].Seq, nil
}

type memSnapshots struct {
	mu       sync.Mutex
	listings map[uint64]domain.Listing
	auctions map[uint64]domain.Auction
	bids     []domain.Bid
	offers   map[uint64]domain.Offer
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{
		listings: map[uint64]domain.Listing{},
		auctions: map[uint64]domain.Auction{},
		offers:   map[uint64]domain.Offer{},
	}
}

func (m *memSnapshots) UpsertListing(_ context.Context, l domain.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = l
	return nil
}

func (m *memSnapshots) UpsertAuction(_ context.Context, a domain.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[a.ID] = a
	return nil
}

func (m *memSnapshots) UpsertBid(_ context.Context, b domain.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bids = append(m.bids, b)
	return nil
}

func (m *memSnapshots) UpsertOffer(_ context.Context, o domain.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[o.ID] = o
	return nil
}

func (m *memSnapshots) ListActiveListings(context.Context, domain.ListOpts) ([]domain.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Listing
	for _, l := range m.listings {
		if l.Active {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memSnapshots) ListOffersByOwner(_ context.Context, owner domain.Address, _ domain.ListOpts) ([]domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Offer
	for _, o := range m.offers {
		if o.AssetOwner == owner && !o.Terminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, domain.AuditEntry{ID: int64(len(m.entries) + 1), Event: event, Detail: detail})
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditEntry(nil), m.entries...), nil
}

type published struct {
	channel string
	payload []byte
}

type memBus struct {
	mu        sync.Mutex
	published []published
	stream    [][]byte
}

func (m *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, published{channel, payload})
	return nil
}

func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (m *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stream = append(m.stream, payload)
	return nil
}

type memFeed struct {
	channels []string
}

func (m *memFeed) Broadcast(channel string, _ []byte) {
	m.channels = append(m.channels, channel)
}
