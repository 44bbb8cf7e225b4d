package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

var titles = map[domain.EventKind]string{
	domain.EventListingCreated:   "Listing created",
	domain.EventListingUpdated:   "Listing updated",
	domain.EventListingCancelled: "Listing cancelled",
	domain.EventItemSold:         "Item sold",
	domain.EventAuctionCreated:   "Auction created",
	domain.EventBidPlaced:        "Bid placed",
	domain.EventBidRefunded:      "Bid refunded",
	domain.EventAuctionEnded:     "Auction ended",
	domain.EventOfferMade:        "Offer made",
	domain.EventOfferAccepted:    "Offer accepted",
	domain.EventOfferCancelled:   "Offer cancelled",
	domain.EventSignatureSale:    "Signature sale",
	domain.EventFeeUpdated:       "Fee updated",
	domain.EventLimitsUpdated:    "Limits updated",
	domain.EventSignerUpdated:    "Trusted signer updated",
	domain.EventFeesWithdrawn:    "Fees withdrawn",
}

// FormatEvent renders e as a title and a multi-line body.
func FormatEvent(e domain.Event) (title, message string) {
	title, ok := titles[e.Kind]
	if !ok {
		title = string(e.Kind)
	}
	if e.EntityID != 0 {
		title = fmt.Sprintf("%s #%d", title, e.EntityID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "seq: %d\n", e.Seq)
	if e.Asset != nil {
		fmt.Fprintf(&b, "asset: %s\n", e.Asset)
	}
	if e.From != nil {
		fmt.Fprintf(&b, "from: %s\n", e.From.Hex())
	}
	if e.To != nil {
		fmt.Fprintf(&b, "to: %s\n", e.To.Hex())
	}
	if e.Amount != nil {
		fmt.Fprintf(&b, "amount: %s %s\n", e.Amount, e.Payment)
	}
	if e.Fee != nil && e.Fee.Sign() > 0 {
		fmt.Fprintf(&b, "fee: %s\n", e.Fee)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, "reason: %s\n", e.Reason)
	}
	fmt.Fprintf(&b, "caller: %s", e.Caller.Hex())
	return title, b.String()
}
