package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/ledger"
)

// OfferService defines the methods that the offer handler requires from the
// service layer.
type OfferService interface {
	MakeOffer(ctx context.Context, call ledger.Call, p domain.OfferParams) (uint64, error)
	AcceptOffer(ctx context.Context, call ledger.Call, id uint64, supersede []uint64) error
	RejectOffers(ctx context.Context, call ledger.Call, ids []uint64) error
	ReclaimExpiredOffer(ctx context.Context, call ledger.Call, id uint64) error
	Offer(ctx context.Context, id uint64) (domain.Offer, error)
	OffersForOwner(ctx context.Context, owner domain.Address, opts domain.ListOpts) ([]domain.Offer, error)
}

// OfferHandler serves direct offer endpoints.
type OfferHandler struct {
	offers OfferService
	logger *slog.Logger
}

// NewOfferHandler creates an OfferHandler with the given service and logger.
func NewOfferHandler(offers OfferService, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{
		offers: offers,
		logger: logHandler(logger, "offers"),
	}
}

type offerRequest struct {
	AssetOwner string               `json:"asset_owner"`
	Asset      domain.AssetRef      `json:"asset"`
	Price      domain.Amount        `json:"price"`
	Payment    domain.PaymentMethod `json:"payment"`
	ExpiresAt  time.Time            `json:"expires_at"`
	Value      domain.Amount        `json:"value"`
}

type acceptOfferRequest struct {
	Supersede []uint64 `json:"supersede,omitempty"`
}

type rejectOffersRequest struct {
	IDs []uint64 `json:"ids"`
}

type listOffersResponse struct {
	Offers []domain.Offer `json:"offers"`
}

// MakeOffer escrows the offered payment against an asset owned by someone else.
// POST /api/offers
func (h *OfferHandler) MakeOffer(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress(req.AssetOwner)
	if err != nil {
		writeError(w, http.StatusBadRequest, "asset_owner: "+err.Error())
		return
	}
	call, ok := callFrom(w, r, req.Value)
	if !ok {
		return
	}
	id, err := h.offers.MakeOffer(r.Context(), call, domain.OfferParams{
		AssetOwner: owner,
		Asset:      req.Asset,
		Price:      req.Price.Big(),
		Payment:    req.Payment,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "make offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// GetOffer returns one offer.
// GET /api/offers/{id}
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeOffer(w, r, id)
}

// ListOffers returns open offers addressed to an asset owner.
// GET /api/offers?owner=0x...&limit=50&offset=0
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner query parameter: "+err.Error())
		return
	}
	offers, err := h.offers.OffersForOwner(r.Context(), owner, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list offers", err)
		return
	}
	if offers == nil {
		offers = []domain.Offer{}
	}
	writeJSON(w, http.StatusOK, listOffersResponse{Offers: offers})
}

// AcceptOffer settles an offer and cancels the superseded ones on the same
// asset in the same call.
// POST /api/offers/{id}/accept
func (h *OfferHandler) AcceptOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req acceptOfferRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	if err := h.offers.AcceptOffer(r.Context(), call, id, req.Supersede); err != nil {
		writeServiceError(w, r, h.logger, "accept offer", err)
		return
	}
	h.writeOffer(w, r, id)
}

// RejectOffers cancels offers addressed to the caller and refunds them.
// POST /api/offers/reject
func (h *OfferHandler) RejectOffers(w http.ResponseWriter, r *http.Request) {
	var req rejectOffersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	if err := h.offers.RejectOffers(r.Context(), call, req.IDs); err != nil {
		writeServiceError(w, r, h.logger, "reject offers", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReclaimOffer refunds an expired offer to its maker.
// POST /api/offers/{id}/reclaim
func (h *OfferHandler) ReclaimOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	if err := h.offers.ReclaimExpiredOffer(r.Context(), call, id); err != nil {
		writeServiceError(w, r, h.logger, "reclaim offer", err)
		return
	}
	h.writeOffer(w, r, id)
}

func (h *OfferHandler) writeOffer(w http.ResponseWriter, r *http.Request, id uint64) {
	o, err := h.offers.Offer(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get offer", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
