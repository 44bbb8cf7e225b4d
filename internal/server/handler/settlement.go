package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/escrowd/internal/crypto"
	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/ledger"
)

// SettlementService defines the methods that the settlement handler requires
// from the service layer.
type SettlementService interface {
	Settle(ctx context.Context, call ledger.Call, sa domain.SignedAuthorization) error
	SettleBulk(ctx context.Context, call ledger.Call, entries []domain.SignedAuthorization) ([]domain.EntryResult, error)
	IssueAuthorization(auth domain.Authorization) (domain.SignedAuthorization, error)
}

// SettlementHandler serves signature-authorized sale endpoints.
type SettlementHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler with the given service and
// logger.
func NewSettlementHandler(settlements SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlements: settlements,
		logger:      logHandler(logger, "settlements"),
	}
}

// authorizationBody is the wire form of an authorization. Buyer may be
// omitted on settlement, where the caller is always the buyer.
type authorizationBody struct {
	Seller    string               `json:"seller"`
	Buyer     string               `json:"buyer,omitempty"`
	Asset     domain.AssetRef      `json:"asset"`
	Price     domain.Amount        `json:"price"`
	Payment   domain.PaymentMethod `json:"payment"`
	Signature string               `json:"signature,omitempty"`
}

func (b authorizationBody) authorization(requireBuyer bool) (domain.Authorization, error) {
	seller, err := parseAddress(b.Seller)
	if err != nil {
		return domain.Authorization{}, fmt.Errorf("seller: %w", err)
	}
	auth := domain.Authorization{
		Seller:  seller,
		Asset:   b.Asset,
		Price:   b.Price.Big(),
		Payment: b.Payment,
	}
	if b.Buyer != "" || requireBuyer {
		buyer, err := parseAddress(b.Buyer)
		if err != nil {
			return domain.Authorization{}, fmt.Errorf("buyer: %w", err)
		}
		auth.Buyer = buyer
	}
	return auth, nil
}

func (b authorizationBody) signed() (domain.SignedAuthorization, error) {
	auth, err := b.authorization(false)
	if err != nil {
		return domain.SignedAuthorization{}, err
	}
	sig, err := crypto.DecodeSignature(b.Signature)
	if err != nil {
		return domain.SignedAuthorization{}, err
	}
	return domain.SignedAuthorization{Authorization: auth, Signature: sig}, nil
}

func authorizationBodyOf(sa domain.SignedAuthorization) authorizationBody {
	return authorizationBody{
		Seller:    sa.Seller.Hex(),
		Buyer:     sa.Buyer.Hex(),
		Asset:     sa.Asset,
		Price:     domain.NewAmount(sa.Price),
		Payment:   sa.Payment,
		Signature: crypto.EncodeSignature(sa.Signature),
	}
}

type settleRequest struct {
	authorizationBody
	Value domain.Amount `json:"value"`
}

type settleBulkRequest struct {
	Entries []authorizationBody `json:"entries"`
	Value   domain.Amount       `json:"value"`
}

// Settle redeems one signed authorization for the caller.
// POST /api/settlements
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sa, err := req.signed()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := callFrom(w, r, req.Value)
	if !ok {
		return
	}
	if err := h.settlements.Settle(r.Context(), call, sa); err != nil {
		writeServiceError(w, r, h.logger, "settle", err)
		return
	}
	sa.Buyer = call.Caller
	writeJSON(w, http.StatusOK, authorizationBodyOf(sa))
}

// SettleBulk redeems several authorizations. The attached value must cover
// every native-priced entry; failed entries are refunded.
// POST /api/settlements/bulk
func (h *SettlementHandler) SettleBulk(w http.ResponseWriter, r *http.Request) {
	var req settleBulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries := make([]domain.SignedAuthorization, len(req.Entries))
	for i, e := range req.Entries {
		sa, err := e.signed()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("entry %d: %s", i, err))
			return
		}
		entries[i] = sa
	}
	call, ok := callFrom(w, r, req.Value)
	if !ok {
		return
	}
	results, err := h.settlements.SettleBulk(r.Context(), call, entries)
	if err != nil {
		writeServiceError(w, r, h.logger, "settle bulk", err)
		return
	}
	writeJSON(w, http.StatusOK, bulkResponse{Results: entryResponses(results)})
}

// IssueAuthorization signs an authorization with the issuer key.
// POST /api/authorizations
func (h *SettlementHandler) IssueAuthorization(w http.ResponseWriter, r *http.Request) {
	var req authorizationBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	auth, err := req.authorization(true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sa, err := h.settlements.IssueAuthorization(auth)
	if err != nil {
		writeServiceError(w, r, h.logger, "issue authorization", err)
		return
	}
	writeJSON(w, http.StatusCreated, authorizationBodyOf(sa))
}
