package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/ledger"
	"github.com/alanyoungcy/escrowd/internal/metrics"
)

// ErrUnavailable is returned by reads that need a backend that is not
// configured.
var ErrUnavailable = errors.New("service: backend not configured")

// Issuer signs settlement authorizations.
type Issuer interface {
	Address() domain.Address
	SignAuthorization(auth domain.Authorization) ([]byte, error)
}

// AssetView is the substrate state of one asset.
type AssetView struct {
	Asset     domain.AssetRef `json:"asset"`
	Owner     domain.Address  `json:"owner"`
	InCustody bool            `json:"in_custody"`
}

// MarketService runs engine calls on behalf of gateway callers and serves the
// read surface. Committed side effects are fanned out by the Dispatcher
// registered as the ledger's commit hook.
type MarketService struct {
	ledger    *ledger.Ledger
	snapshots domain.SnapshotStore
	events    domain.EventStore
	issuer    Issuer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewMarketService creates a MarketService. snapshots, events, issuer and m
// may be nil.
func NewMarketService(
	l *ledger.Ledger,
	snapshots domain.SnapshotStore,
	events domain.EventStore,
	issuer Issuer,
	m *metrics.Metrics,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		ledger:    l,
		snapshots: snapshots,
		events:    events,
		issuer:    issuer,
		metrics:   m,
		logger:    logger.With(slog.String("component", "market_service")),
	}
}

// observe records the outcome of one engine call.
func (s *MarketService) observe(ctx context.Context, op string, call ledger.Call, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveCall(op, err, time.Since(start))
	}
	if err == nil {
		return
	}
	if class := domain.Class(err); class == "internal" {
		s.logger.ErrorContext(ctx, "market_service: call failed",
			slog.String("op", op),
			slog.String("caller", call.Caller.Hex()),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.DebugContext(ctx, "market_service: call rejected",
			slog.String("op", op),
			slog.String("class", class),
			slog.String("error", err.Error()),
		)
	}
}

// --- listings ---

func (s *MarketService) CreateListing(ctx context.Context, call ledger.Call, p domain.ListingParams) (uint64, error) {
	start := time.Now()
	id, err := s.ledger.CreateListing(ctx, call, p)
	s.observe(ctx, "create listing", call, start, err)
	return id, err
}

func (s *MarketService) CreateListings(ctx context.Context, call ledger.Call, entries []domain.ListingParams) ([]domain.EntryResult, error) {
	start := time.Now()
	res, err := s.ledger.CreateListings(ctx, call, entries)
	s.observe(ctx, "create listings", call, start, err)
	return res, err
}

func (s *MarketService) UpdateListing(ctx context.Context, call ledger.Call, id uint64, price *big.Int, d time.Duration) error {
	start := time.Now()
	err := s.ledger.UpdateListing(ctx, call, id, price, d)
	s.observe(ctx, "update listing", call, start, err)
	return err
}

func (s *MarketService) CancelListing(ctx context.Context, call ledger.Call, id uint64) error {
	start := time.Now()
	err := s.ledger.CancelListing(ctx, call, id)
	s.observe(ctx, "cancel listing", call, start, err)
	return err
}

func (s *MarketService) BuyListing(ctx context.Context, call ledger.Call, id uint64) error {
	start := time.Now()
	err := s.ledger.BuyListing(ctx, call, id)
	s.observe(ctx, "buy listing", call, start, err)
	return err
}

// --- auctions ---

func (s *MarketService) CreateAuction(ctx context.Context, call ledger.Call, p domain.AuctionParams) (uint64, error) {
	start := time.Now()
	id, err := s.ledger.CreateAuction(ctx, call, p)
	s.observe(ctx, "create auction", call, start, err)
	return id, err
}

func (s *MarketService) PlaceBid(ctx context.Context, call ledger.Call, id uint64, amount *big.Int) error {
	start := time.Now()
	err := s.ledger.PlaceBid(ctx, call, id, amount)
	s.observe(ctx, "place bid", call, start, err)
	return err
}

func (s *MarketService) EndAuction(ctx context.Context, call ledger.Call, id uint64) error {
	start := time.Now()
	err := s.ledger.EndAuction(ctx, call, id)
	s.observe(ctx, "end auction", call, start, err)
	return err
}

// --- offers ---

func (s *MarketService) MakeOffer(ctx context.Context, call ledger.Call, p domain.OfferParams) (uint64, error) {
	start := time.Now()
	id, err := s.ledger.MakeOffer(ctx, call, p)
	s.observe(ctx, "make offer", call, start, err)
	return id, err
}

func (s *MarketService) AcceptOffer(ctx context.Context, call ledger.Call, id uint64, supersede []uint64) error {
	start := time.Now()
	err := s.ledger.AcceptOffer(ctx, call, id, supersede)
	s.observe(ctx, "accept offer", call, start, err)
	return err
}

func (s *MarketService) RejectOffers(ctx context.Context, call ledger.Call, ids []uint64) error {
	start := time.Now()
	err := s.ledger.RejectOffers(ctx, call, ids)
	s.observe(ctx, "reject offers", call, start, err)
	return err
}

func (s *MarketService) ReclaimExpiredOffer(ctx context.Context, call ledger.Call, id uint64) error {
	start := time.Now()
	err := s.ledger.ReclaimExpiredOffer(ctx, call, id)
	s.observe(ctx, "reclaim offer", call, start, err)
	return err
}

// --- signature settlement ---

func (s *MarketService) Settle(ctx context.Context, call ledger.Call, sa domain.SignedAuthorization) error {
	start := time.Now()
	err := s.ledger.Settle(ctx, call, sa.Authorization, sa.Signature)
	s.observe(ctx, "settle", call, start, err)
	return err
}

func (s *MarketService) SettleBulk(ctx context.Context, call ledger.Call, entries []domain.SignedAuthorization) ([]domain.EntryResult, error) {
	auths := make([]domain.Authorization, len(entries))
	sigs := make([][]byte, len(entries))
	for i, e := range entries {
		auths[i], sigs[i] = e.Authorization, e.Signature
	}
	start := time.Now()
	res, err := s.ledger.SettleBulk(ctx, call, auths, sigs)
	s.observe(ctx, "settle bulk", call, start, err)
	return res, err
}

// IssueAuthorization signs auth with the configured issuer key. It fails with
// ErrUnavailable when no key is configured.
func (s *MarketService) IssueAuthorization(auth domain.Authorization) (domain.SignedAuthorization, error) {
	if s.issuer == nil {
		return domain.SignedAuthorization{}, fmt.Errorf("issue authorization: %w", ErrUnavailable)
	}
	sig, err := s.issuer.SignAuthorization(auth)
	if err != nil {
		return domain.SignedAuthorization{}, fmt.Errorf("market_service: issue authorization: %w", err)
	}
	return domain.SignedAuthorization{Authorization: auth, Signature: sig}, nil
}

// --- substrate ---

func (s *MarketService) SetApproval(ctx context.Context, call ledger.Call, operator domain.Address, approved bool) error {
	start := time.Now()
	err := s.ledger.SetApprovalForAll(ctx, call, operator, approved)
	s.observe(ctx, "set approval", call, start, err)
	return err
}

// --- admin ---

func (s *MarketService) SetFee(ctx context.Context, call ledger.Call, bps uint32) error {
	start := time.Now()
	err := s.ledger.SetFee(ctx, call, bps)
	s.observe(ctx, "set fee", call, start, err)
	return err
}

func (s *MarketService) SetOfferFee(ctx context.Context, call ledger.Call, bps uint32) error {
	start := time.Now()
	err := s.ledger.SetOfferFee(ctx, call, bps)
	s.observe(ctx, "set offer fee", call, start, err)
	return err
}

func (s *MarketService) SetLimits(ctx context.Context, call ledger.Call, limits domain.Limits) error {
	start := time.Now()
	err := s.ledger.SetLimits(ctx, call, limits)
	s.observe(ctx, "set limits", call, start, err)
	return err
}

func (s *MarketService) SetTrustedSigner(ctx context.Context, call ledger.Call, signer domain.Address) error {
	start := time.Now()
	err := s.ledger.SetTrustedSigner(ctx, call, signer)
	s.observe(ctx, "set trusted signer", call, start, err)
	return err
}

func (s *MarketService) WithdrawFees(ctx context.Context, call ledger.Call, method domain.PaymentMethod, amount *big.Int) error {
	start := time.Now()
	err := s.ledger.WithdrawFees(ctx, call, method, amount)
	s.observe(ctx, "withdraw fees", call, start, err)
	return err
}

// --- reads ---

func (s *MarketService) Listing(ctx context.Context, id uint64) (domain.Listing, error) {
	return s.ledger.Listing(ctx, id)
}

func (s *MarketService) Auction(ctx context.Context, id uint64) (domain.Auction, error) {
	return s.ledger.Auction(ctx, id)
}

func (s *MarketService) Bid(ctx context.Context, auctionID uint64, bidder domain.Address) (domain.Bid, error) {
	return s.ledger.Bid(ctx, auctionID, bidder)
}

func (s *MarketService) Offer(ctx context.Context, id uint64) (domain.Offer, error) {
	return s.ledger.Offer(ctx, id)
}

func (s *MarketService) FeeAccount(ctx context.Context) domain.FeeAccount {
	return s.ledger.FeeAccount(ctx)
}

func (s *MarketService) Limits(ctx context.Context) domain.Limits { return s.ledger.Limits(ctx) }

func (s *MarketService) TrustedSigner(ctx context.Context) domain.Address {
	return s.ledger.TrustedSigner(ctx)
}

// Asset returns the owner and custody state of asset.
func (s *MarketService) Asset(ctx context.Context, asset domain.AssetRef) (AssetView, error) {
	owner, err := s.ledger.OwnerOf(ctx, asset)
	if err != nil {
		return AssetView{}, err
	}
	return AssetView{Asset: asset, Owner: owner, InCustody: s.ledger.InCustody(ctx, asset)}, nil
}

// Balances returns account's balance in each method. Native is always
// included.
func (s *MarketService) Balances(ctx context.Context, account domain.Address, methods []domain.PaymentMethod) map[domain.PaymentMethod]*big.Int {
	out := map[domain.PaymentMethod]*big.Int{domain.Native(): s.ledger.BalanceOf(ctx, account, domain.Native())}
	for _, m := range methods {
		out[m] = s.ledger.BalanceOf(ctx, account, m)
	}
	return out
}

// Events returns committed events starting at from. The in-memory log is
// authoritative; the event store serves ranges the process no longer holds.
func (s *MarketService) Events(ctx context.Context, from uint64, limit int) ([]domain.Event, error) {
	events := s.ledger.Events(ctx, from, limit)
	if len(events) > 0 || s.events == nil {
		return events, nil
	}
	stored, err := s.events.List(ctx, from, limit)
	if err != nil {
		return nil, fmt.Errorf("market_service: list stored events: %w", err)
	}
	return stored, nil
}

// ActiveListings pages through active listings in the snapshot store.
func (s *MarketService) ActiveListings(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	if s.snapshots == nil {
		return nil, fmt.Errorf("active listings: %w", ErrUnavailable)
	}
	listings, err := s.snapshots.ListActiveListings(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list active listings: %w", err)
	}
	return listings, nil
}

// OffersForOwner pages through the open offers addressed to owner.
func (s *MarketService) OffersForOwner(ctx context.Context, owner domain.Address, opts domain.ListOpts) ([]domain.Offer, error) {
	if s.snapshots == nil {
		return nil, fmt.Errorf("offers by owner: %w", ErrUnavailable)
	}
	offers, err := s.snapshots.ListOffersByOwner(ctx, owner, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list offers by owner: %w", err)
	}
	return offers, nil
}

// LedgerEvents adapts the in-memory event log to the archiver's source.
type LedgerEvents struct {
	L *ledger.Ledger
}

// List returns up to limit events with Seq >= fromSeq.
func (e LedgerEvents) List(ctx context.Context, fromSeq uint64, limit int) ([]domain.Event, error) {
	return e.L.Events(ctx, fromSeq, limit), nil
}
