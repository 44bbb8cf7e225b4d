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

// AdminService defines the methods that the admin handler requires from the
// service layer.
type AdminService interface {
	SetFee(ctx context.Context, call ledger.Call, bps uint32) error
	SetOfferFee(ctx context.Context, call ledger.Call, bps uint32) error
	SetLimits(ctx context.Context, call ledger.Call, limits domain.Limits) error
	SetTrustedSigner(ctx context.Context, call ledger.Call, signer domain.Address) error
	WithdrawFees(ctx context.Context, call ledger.Call, method domain.PaymentMethod, amount *big.Int) error
	FeeAccount(ctx context.Context) domain.FeeAccount
	Limits(ctx context.Context) domain.Limits
	TrustedSigner(ctx context.Context) domain.Address
}

// AuditLister pages through the audit trail.
type AuditLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AdminHandler serves fee, limit and signer administration. Every mutation is
// checked against the admin account by the engine.
type AdminHandler struct {
	admin  AdminService
	audit  AuditLister
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler. audit may be nil.
func NewAdminHandler(admin AdminService, audit AuditLister, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		audit:  audit,
		logger: logHandler(logger, "admin"),
	}
}

type feeRequest struct {
	Bps uint32 `json:"bps"`
}

type limitsBody struct {
	MinListingDuration Duration `json:"min_listing_duration"`
	MaxListingDuration Duration `json:"max_listing_duration"`
	MinAuctionDuration Duration `json:"min_auction_duration"`
	MaxAuctionDuration Duration `json:"max_auction_duration"`
	MaxOfferDuration   Duration `json:"max_offer_duration"`
	MaxBulkEntries     int      `json:"max_bulk_entries"`
}

func limitsBodyOf(l domain.Limits) limitsBody {
	return limitsBody{
		MinListingDuration: Duration(l.MinListingDuration),
		MaxListingDuration: Duration(l.MaxListingDuration),
		MinAuctionDuration: Duration(l.MinAuctionDuration),
		MaxAuctionDuration: Duration(l.MaxAuctionDuration),
		MaxOfferDuration:   Duration(l.MaxOfferDuration),
		MaxBulkEntries:     l.MaxBulkEntries,
	}
}

func (b limitsBody) limits() domain.Limits {
	return domain.Limits{
		MinListingDuration: time.Duration(b.MinListingDuration),
		MaxListingDuration: time.Duration(b.MaxListingDuration),
		MinAuctionDuration: time.Duration(b.MinAuctionDuration),
		MaxAuctionDuration: time.Duration(b.MaxAuctionDuration),
		MaxOfferDuration:   time.Duration(b.MaxOfferDuration),
		MaxBulkEntries:     b.MaxBulkEntries,
	}
}

type signerRequest struct {
	Signer string `json:"signer"`
}

type withdrawRequest struct {
	Payment domain.PaymentMethod `json:"payment"`
	Amount  domain.Amount        `json:"amount"`
}

type feesResponse struct {
	PlatformFeeBps uint32                   `json:"platform_fee_bps"`
	OfferFeeBps    uint32                   `json:"offer_fee_bps"`
	Accumulated    map[string]domain.Amount `json:"accumulated"`
	TrustedSigner  string                   `json:"trusted_signer"`
	Limits         limitsBody               `json:"limits"`
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// GetFees returns fee rates, accrued revenue, limits and the trusted signer.
// GET /api/fees
func (h *AdminHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	fa := h.admin.FeeAccount(r.Context())
	acc := make(map[string]domain.Amount, len(fa.Accumulated))
	for m, v := range fa.Accumulated {
		acc[m.String()] = domain.NewAmount(v)
	}
	signer := ""
	if s := h.admin.TrustedSigner(r.Context()); s != domain.ZeroAddress {
		signer = s.Hex()
	}
	writeJSON(w, http.StatusOK, feesResponse{
		PlatformFeeBps: fa.PlatformFeeBps,
		OfferFeeBps:    fa.OfferFeeBps,
		Accumulated:    acc,
		TrustedSigner:  signer,
		Limits:         limitsBodyOf(h.admin.Limits(r.Context())),
	})
}

// SetFee sets the platform fee on listings, auctions and settlements.
// PUT /api/admin/fees
func (h *AdminHandler) SetFee(w http.ResponseWriter, r *http.Request) {
	h.setBps(w, r, "set fee", h.admin.SetFee)
}

// SetOfferFee sets the fee on accepted offers.
// PUT /api/admin/offer-fees
func (h *AdminHandler) SetOfferFee(w http.ResponseWriter, r *http.Request) {
	h.setBps(w, r, "set offer fee", h.admin.SetOfferFee)
}

func (h *AdminHandler) setBps(w http.ResponseWriter, r *http.Request, op string, set func(context.Context, ledger.Call, uint32) error) {
	var req feeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	if err := set(r.Context(), call, req.Bps); err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	h.GetFees(w, r)
}

// SetLimits replaces the duration and batch limits.
// PUT /api/admin/limits
func (h *AdminHandler) SetLimits(w http.ResponseWriter, r *http.Request) {
	var req limitsBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	if err := h.admin.SetLimits(r.Context(), call, req.limits()); err != nil {
		writeServiceError(w, r, h.logger, "set limits", err)
		return
	}
	writeJSON(w, http.StatusOK, limitsBodyOf(h.admin.Limits(r.Context())))
}

// SetSigner replaces the trusted settlement signer.
// PUT /api/admin/signer
func (h *AdminHandler) SetSigner(w http.ResponseWriter, r *http.Request) {
	var req signerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	signer, err := parseAddress(req.Signer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "signer: "+err.Error())
		return
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	if err := h.admin.SetTrustedSigner(r.Context(), call, signer); err != nil {
		writeServiceError(w, r, h.logger, "set trusted signer", err)
		return
	}
	writeJSON(w, http.StatusOK, signerRequest{Signer: h.admin.TrustedSigner(r.Context()).Hex()})
}

// WithdrawFees pays accrued revenue to the admin.
// POST /api/admin/withdrawals
func (h *AdminHandler) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	call, ok := callFrom(w, r, domain.Amount{})
	if !ok {
		return
	}
	if err := h.admin.WithdrawFees(r.Context(), call, req.Payment, req.Amount.Big()); err != nil {
		writeServiceError(w, r, h.logger, "withdraw fees", err)
		return
	}
	h.GetFees(w, r)
}

// ListAudit pages through the admin audit trail.
// GET /api/admin/audit
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{Entries: entries})
}
