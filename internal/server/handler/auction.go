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

// AuctionService defines the methods that the auction handler requires from
// the service layer.
type AuctionService interface {
	CreateAuction(ctx context.Context, call ledger.Call, p domain.AuctionParams) (uint64, error)
	PlaceBid(ctx context.Context, call ledger.Call, id uint64, amount *big.Int) error
	EndAuction(ctx context.Context, call ledger.Call, id uint64) error
	Auction(ctx context.Context, id uint64) (domain.Auction, error)
	Bid(ctx context.Context, auctionID uint64, bidder domain.Address) (domain.Bid, error)
}

// AuctionHandler serves English auction endpoints.
type AuctionHandler struct {
	auctions AuctionService
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler with the given service and logger.
func NewAuctionHandler(auctions AuctionService, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		logger:   logHandler(logger, "auctions"),
	}
}

type auctionRequest struct {
	Asset         domain.AssetRef      `json:"asset"`
	StartingPrice domain.Amount        `json:"starting_price"`
	ReservePrice  domain.Amount        `json:"reserve_price"`
	Payment       domain.PaymentMethod `json:"payment"`
	Duration      Duration             `json:"duration"`
	Metadata      string               `json:"metadata,omitempty"`
}

// bidRequest carries the bid amount. For native auctions value must equal
// amount.
type bidRequest struct {
	Amount domain.Amount `json:"amount"`
	Value  domain.Amount `json:"value"`
}

// CreateAuction escrows the caller's asset and opens an auction.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req auctionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	id, err := h.auctions.CreateAuction(r.Context(), call, domain.AuctionParams{
		Asset:         req.Asset,
		StartingPrice: req.StartingPrice.Big(),
		ReservePrice:  req.ReservePrice.Big(),
		Payment:       req.Payment,
		Duration:      time.Duration(req.Duration),
		Metadata:      req.Metadata,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create auction", err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// GetAuction returns one auction.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeAuction(w, r, id)
}

// GetBid returns a bidder's latest bid on an auction.
// GET /api/auctions/{id}/bids/{bidder}
func (h *AuctionHandler) GetBid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bidder, err := parseAddress(pathParam(r, "bidder"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := h.auctions.Bid(r.Context(), id, bidder)
	if err != nil {
		writeServiceError(w, r, h.logger, "get bid", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// PlaceBid outbids the current highest bid.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req bidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := callFrom(w, r, req.Value)
	if !ok {
		return
	}
	if err := h.auctions.PlaceBid(r.Context(), call, id, req.Amount.Big()); err != nil {
		writeServiceError(w, r, h.logger, "place bid", err)
		return
	}
	h.writeAuction(w, r, id)
}

// EndAuction settles an auction once its end time has passed.
// POST /api/auctions/{id}/end
func (h *AuctionHandler) EndAuction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	if err := h.auctions.EndAuction(r.Context(), call, id); err != nil {
		writeServiceError(w, r, h.logger, "end auction", err)
		return
	}
	h.writeAuction(w, r, id)
}

func (h *AuctionHandler) writeAuction(w http.ResponseWriter, r *http.Request, id uint64) {
	a, err := h.auctions.Auction(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get auction", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
