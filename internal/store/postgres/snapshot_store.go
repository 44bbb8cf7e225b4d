package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// UpsertListing stores the latest state of a listing.
func (s *SnapshotStore) UpsertListing(ctx context.Context, l domain.Listing) error {
	doc, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("postgres: marshal listing %d: %w", l.ID, err)
	}
	const query = `
		INSERT INTO listings (id, seller, asset_key, active, expires_at, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			active     = EXCLUDED.active,
			expires_at = EXCLUDED.expires_at,
			doc        = EXCLUDED.doc,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query,
		int64(l.ID), l.Seller.Hex(), l.Asset.Key(), l.Active, l.ExpiresAt, doc,
	); err != nil {
		return fmt.Errorf("postgres: upsert listing %d: %w", l.ID, err)
	}
	return nil
}

// UpsertAuction stores the latest state of an auction.
func (s *SnapshotStore) UpsertAuction(ctx context.Context, a domain.Auction) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("postgres: marshal auction %d: %w", a.ID, err)
	}
	const query = `
		INSERT INTO auctions (id, seller, asset_key, active, end_time, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			active     = EXCLUDED.active,
			doc        = EXCLUDED.doc,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query,
		int64(a.ID), a.Seller.Hex(), a.Asset.Key(), a.Active, a.EndTime, doc,
	); err != nil {
		return fmt.Errorf("postgres: upsert auction %d: %w", a.ID, err)
	}
	return nil
}

// UpsertBid stores the latest bid of one bidder on one auction.
func (s *SnapshotStore) UpsertBid(ctx context.Context, b domain.Bid) error {
	doc, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("postgres: marshal bid: %w", err)
	}
	const query = `
		INSERT INTO bids (auction_id, bidder, refunded, doc, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (auction_id, bidder) DO UPDATE SET
			refunded   = EXCLUDED.refunded,
			doc        = EXCLUDED.doc,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, int64(b.AuctionID), b.Bidder.Hex(), b.Refunded, doc); err != nil {
		return fmt.Errorf("postgres: upsert bid %d/%s: %w", b.AuctionID, b.Bidder.Hex(), err)
	}
	return nil
}

// UpsertOffer stores the latest state of an offer.
func (s *SnapshotStore) UpsertOffer(ctx context.Context, o domain.Offer) error {
	doc, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("postgres: marshal offer %d: %w", o.ID, err)
	}
	const query = `
		INSERT INTO offers (id, asset_owner, offer_maker, asset_key, terminal, expires_at, doc, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			terminal   = EXCLUDED.terminal,
			doc        = EXCLUDED.doc,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query,
		int64(o.ID), o.AssetOwner.Hex(), o.OfferMaker.Hex(), o.Asset.Key(), o.Terminal(), o.ExpiresAt, doc,
	); err != nil {
		return fmt.Errorf("postgres: upsert offer %d: %w", o.ID, err)
	}
	return nil
}

// ListActiveListings returns listings that are active and not yet expired,
// oldest first.
func (s *SnapshotStore) ListActiveListings(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	query, args := pageQuery(`SELECT doc FROM listings WHERE active AND expires_at > NOW()`, opts, nil)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active listings: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanJSON[domain.Listing])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan listings: %w", err)
	}
	return out, nil
}

// ListOffersByOwner returns the open offers addressed to owner, oldest first.
func (s *SnapshotStore) ListOffersByOwner(ctx context.Context, owner domain.Address, opts domain.ListOpts) ([]domain.Offer, error) {
	query, args := pageQuery(`SELECT doc FROM offers WHERE asset_owner = $1 AND NOT terminal`, opts, []any{owner.Hex()})
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers of %s: %w", owner.Hex(), err)
	}
	out, err := pgx.CollectRows(rows, scanJSON[domain.Offer])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan offers: %w", err)
	}
	return out, nil
}

func pageQuery(base string, opts domain.ListOpts, args []any) (string, []any) {
	query := base + " ORDER BY id"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
