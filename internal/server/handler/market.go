package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/ledger"
	"github.com/alanyoungcy/escrowd/internal/service"
)

// maxEventPage bounds GET /api/events.
const maxEventPage = 1000

// MarketService defines the read surface and substrate calls served by the
// market handler.
type MarketService interface {
	Events(ctx context.Context, from uint64, limit int) ([]domain.Event, error)
	Asset(ctx context.Context, asset domain.AssetRef) (service.AssetView, error)
	Balances(ctx context.Context, account domain.Address, methods []domain.PaymentMethod) map[domain.PaymentMethod]*big.Int
	SetApproval(ctx context.Context, call ledger.Call, operator domain.Address, approved bool) error
}

// MarketHandler serves the event log, asset and balance reads, and operator
// approvals.
type MarketHandler struct {
	market MarketService
	engine domain.Address
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler. engine is the default operator for
// approval requests that name none.
func NewMarketHandler(market MarketService, engine domain.Address, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		market: market,
		engine: engine,
		logger: logHandler(logger, "market"),
	}
}

type eventsResponse struct {
	Events []domain.Event `json:"events"`
	Next   uint64         `json:"next"`
}

type balancesResponse struct {
	Account  string                   `json:"account"`
	Balances map[string]domain.Amount `json:"balances"`
}

type approvalRequest struct {
	Operator string `json:"operator,omitempty"`
	Approved bool   `json:"approved"`
}

// ListEvents returns committed events in sequence order. next is the from
// value for the following page.
// GET /api/events?from=1&limit=100
func (h *MarketHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from := uint64(1)
	if v := q.Get("from"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
		from = max(n, 1)
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxEventPage)
	}

	events, err := h.market.Events(r.Context(), from, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	next := from
	if n := len(events); n > 0 {
		next = events[n-1].Seq + 1
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Next: next})
}

// GetAsset returns the owner and custody state of an asset.
// GET /api/assets/{contract}/{tokenId}
func (h *MarketHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	contract, err := parseAddress(pathParam(r, "contract"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenID, ok := new(big.Int).SetString(pathParam(r, "tokenId"), 10)
	if !ok || tokenID.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "invalid token id")
		return
	}
	view, err := h.market.Asset(r.Context(), domain.AssetRef{Contract: contract, TokenID: tokenID})
	if err != nil {
		writeServiceError(w, r, h.logger, "get asset", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetBalances returns an account's native balance plus any tokens named in
// the payment query parameter.
// GET /api/balances/{address}?payment=0x...,0x...
func (h *MarketHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress(pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var methods []domain.PaymentMethod
	for _, raw := range r.URL.Query()["payment"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			var m domain.PaymentMethod
			if err := m.UnmarshalText([]byte(s)); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			methods = append(methods, m)
		}
	}

	balances := h.market.Balances(r.Context(), account, methods)
	out := make(map[string]domain.Amount, len(balances))
	for m, v := range balances {
		out[m.String()] = domain.NewAmount(v)
	}
	writeJSON(w, http.StatusOK, balancesResponse{Account: account.Hex(), Balances: out})
}

// SetApproval grants or revokes an operator's rights over all of the caller's
// assets. The operator defaults to the engine.
// POST /api/approvals
func (h *MarketHandler) SetApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	operator := h.engine
	if req.Operator != "" {
		op, err := parseAddress(req.Operator)
		if err != nil {
			writeError(w, http.StatusBadRequest, "operator: "+err.Error())
			return
		}
		operator = op
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	if err := h.market.SetApproval(r.Context(), call, operator, req.Approved); err != nil {
		writeServiceError(w, r, h.logger, "set approval", err)
		return
	}
	writeJSON(w, http.StatusOK, approvalRequest{Operator: operator.Hex(), Approved: req.Approved})
}
