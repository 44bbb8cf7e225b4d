package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists the committed event log for indexers.
type EventStore interface {
	Append(ctx context.Context, events []Event) error
	List(ctx context.Context, fromSeq uint64, limit int) ([]Event, error)
	LastSeq(ctx context.Context) (uint64, error)
}

// SnapshotStore keeps the latest state of every entity touched by a committed
// call, keyed by id.
type SnapshotStore interface {
	UpsertListing(ctx context.Context, l Listing) error
	UpsertAuction(ctx context.Context, a Auction) error
	UpsertBid(ctx context.Context, b Bid) error
	UpsertOffer(ctx context.Context, o Offer) error
	ListActiveListings(ctx context.Context, opts ListOpts) ([]Listing, error)
	ListOffersByOwner(ctx context.Context, owner Address, opts ListOpts) ([]Offer, error)
}

// AuditEntry is one row of the admin audit trail.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore records administrative actions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
