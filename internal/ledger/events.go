package ledger

import (
	"context"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// emit queues an event on the journal. It becomes visible only if the
// top-level call commits.
func (c *callCtx) emit(e domain.Event) {
	e.Timestamp = c.now
	e.Caller = c.caller
	st := c.l.st
	st.pending = append(st.pending, e)
	n := len(st.pending) - 1
	c.l.tx.record(func() { st.pending = st.pending[:n] })
}

func (l *Ledger) commit(op string, caller domain.Address) Commit {
	st := l.st
	out := Commit{Op: op, Caller: caller, Events: make([]domain.Event, 0, len(st.pending))}

	seenListing := map[uint64]bool{}
	seenAuction := map[uint64]bool{}
	seenOffer := map[uint64]bool{}
	seenBid := map[bidKey]bool{}

	for _, e := range st.pending {
		e.Seq = uint64(len(st.events)) + 1
		st.events = append(st.events, e)
		out.Events = append(out.Events, e.Clone())

		switch e.Kind {
		case domain.EventListingCreated, domain.EventListingUpdated, domain.EventListingCancelled, domain.EventItemSold:
			if e.EntityID != 0 && !seenListing[e.EntityID] {
				seenListing[e.EntityID] = true
				out.Listings = append(out.Listings, st.listings[e.EntityID-1].Clone())
			}
		case domain.EventAuctionCreated, domain.EventBidPlaced, domain.EventBidRefunded, domain.EventAuctionEnded:
			if !seenAuction[e.EntityID] {
				seenAuction[e.EntityID] = true
				out.Auctions = append(out.Auctions, st.auctions[e.EntityID-1].Clone())
			}
			if e.To != nil && (e.Kind == domain.EventBidPlaced || e.Kind == domain.EventBidRefunded) {
				k := bidKey{auction: e.EntityID, bidder: *e.To}
				if b, ok := st.bids[k]; ok && !seenBid[k] {
					seenBid[k] = true
					out.Bids = append(out.Bids, b.Clone())
				}
			}
		case domain.EventOfferMade, domain.EventOfferAccepted, domain.EventOfferCancelled:
			if !seenOffer[e.EntityID] {
				seenOffer[e.EntityID] = true
				out.Offers = append(out.Offers, st.offers[e.EntityID-1].Clone())
			}
		}
	}
	st.pending = st.pending[:0]
	l.seq.Store(uint64(len(st.events)))
	return out
}

// Events returns up to limit committed events with Seq >= from. A limit of
// zero or less returns all of them.
func (l *Ledger) Events(ctx context.Context, from uint64, limit int) []domain.Event {
	if from == 0 {
		from = 1
	}
	var out []domain.Event
	l.read(ctx, func() {
		if from > uint64(len(l.st.events)) {
			return
		}
		src := l.st.events[from-1:]
		if limit > 0 && len(src) > limit {
			src = src[:limit]
		}
		out = make([]domain.Event, len(src))
		for i, e := range src {
			out[i] = e.Clone()
		}
	})
	return out
}

// LastSeq returns the sequence number of the newest committed event. It does
// not take the lock.
func (l *Ledger) LastSeq() uint64 {
	return l.seq.Load()
}
