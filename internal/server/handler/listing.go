package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/ledger"
)

// ListingService defines the methods that the listing handler requires from
// the service layer.
type ListingService interface {
	CreateListing(ctx context.Context, call ledger.Call, p domain.ListingParams) (uint64, error)
	CreateListings(ctx context.Context, call ledger.Call, entries []domain.ListingParams) ([]domain.EntryResult, error)
	UpdateListing(ctx context.Context, call ledger.Call, id uint64, price *big.Int, d time.Duration) error
	CancelListing(ctx context.Context, call ledger.Call, id uint64) error
	BuyListing(ctx context.Context, call ledger.Call, id uint64) error
	Listing(ctx context.Context, id uint64) (domain.Listing, error)
	ActiveListings(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error)
}

// ListingHandler serves fixed-price listing endpoints.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler with the given service and logger.
func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		logger:   logHandler(logger, "listings"),
	}
}

type listingRequest struct {
	Asset    domain.AssetRef      `json:"asset"`
	Price    domain.Amount        `json:"price"`
	Payment  domain.PaymentMethod `json:"payment"`
	Duration Duration             `json:"duration"`
	Metadata string               `json:"metadata,omitempty"`
}

func (req listingRequest) params() domain.ListingParams {
	return domain.ListingParams{
		Asset:    req.Asset,
		Price:    req.Price.Big(),
		Payment:  req.Payment,
		Duration: time.Duration(req.Duration),
		Metadata: req.Metadata,
	}
}

type bulkListingRequest struct {
	Entries []listingRequest `json:"entries"`
}

type updateListingRequest struct {
	Price    domain.Amount `json:"price"`
	Duration Duration      `json:"duration"`
}

type buyRequest struct {
	Value domain.Amount `json:"value"`
}

type idResponse struct {
	ID uint64 `json:"id"`
}

type bulkResponse struct {
	Results []entryResponse `json:"results"`
}

type listListingsResponse struct {
	Listings []domain.Listing `json:"listings"`
}

// ListListings returns active listings from the snapshot store.
// GET /api/listings?limit=50&offset=0
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	listings, err := h.listings.ActiveListings(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list listings", err)
		return
	}
	if listings == nil {
		listings = []domain.Listing{}
	}
	writeJSON(w, http.StatusOK, listListingsResponse{Listings: listings})
}

// CreateListing escrows the caller's asset and lists it at a fixed price.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req listingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	id, err := h.listings.CreateListing(r.Context(), call, req.params())
	if err != nil {
		writeServiceError(w, r, h.logger, "create listing", err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// CreateListings lists several assets; each entry succeeds or fails alone.
// POST /api/listings/bulk
func (h *ListingHandler) CreateListings(w http.ResponseWriter, r *http.Request) {
	var req bulkListingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	entries := make([]domain.ListingParams, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = e.params()
	}
	results, err := h.listings.CreateListings(r.Context(), call, entries)
	if err != nil {
		writeServiceError(w, r, h.logger, "create listings", err)
		return
	}
	writeJSON(w, http.StatusOK, bulkResponse{Results: entryResponses(results)})
}

// GetListing returns one listing.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, err := h.listings.Listing(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get listing", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// UpdateListing changes price and restarts the listing's duration.
// PUT /api/listings/{id}
func (h *ListingHandler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req updateListingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	if err := h.listings.UpdateListing(r.Context(), call, id, req.Price.Big(), time.Duration(req.Duration)); err != nil {
		writeServiceError(w, r, h.logger, "update listing", err)
		return
	}
	h.writeListing(w, r, id)
}

// CancelListing withdraws an active listing and returns the asset.
// DELETE /api/listings/{id}
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	if err := h.listings.CancelListing(r.Context(), call, id); err != nil {
		writeServiceError(w, r, h.logger, "cancel listing", err)
		return
	}
	h.writeListing(w, r, id)
}

// BuyListing purchases a listing. Native-priced listings carry the price as
// the request's value.
// POST /api/listings/{id}/buy
func (h *ListingHandler) BuyListing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req buyRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	call, ok := callFrom(w, r, req.Value)
	if !ok {
		return
	}
	if err := h.listings.BuyListing(r.Context(), call, id); err != nil {
		writeServiceError(w, r, h.logger, "buy listing", err)
		return
	}
	h.writeListing(w, r, id)
}

func (h *ListingHandler) writeListing(w http.ResponseWriter, r *http.Request, id uint64) {
	l, err := h.listings.Listing(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get listing", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}
