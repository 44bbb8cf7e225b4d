package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/metrics"
	"github.com/alanyoungcy/escrowd/internal/server/handler"
	"github.com/alanyoungcy/escrowd/internal/server/middleware"
	"github.com/alanyoungcy/escrowd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	Auth        middleware.AuthConfig

	// RateLimiter is optional; without it requests are not limited.
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// publicPaths skip gateway authentication.
var publicPaths = []string{"/api/health", "/metrics", "/ws"}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Listings    *handler.ListingHandler
	Auctions    *handler.AuctionHandler
	Offers      *handler.OfferHandler
	Settlements *handler.SettlementHandler
	Admin       *handler.AdminHandler
	Market      *handler.MarketHandler
}

// Server is the HTTP + WebSocket gateway in front of the engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// m and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, m *metrics.Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	registerRoutes(mux, handlers)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      buildChain(mux, cfg, m, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

func registerRoutes(mux *http.ServeMux, h Handlers) {
	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	// Listings.
	mux.HandleFunc("GET /api/listings", h.Listings.ListListings)
	mux.HandleFunc("POST /api/listings", h.Listings.CreateListing)
	mux.HandleFunc("POST /api/listings/bulk", h.Listings.CreateListings)
	mux.HandleFunc("GET /api/listings/{id}", h.Listings.GetListing)
	mux.HandleFunc("PUT /api/listings/{id}", h.Listings.UpdateListing)
	mux.HandleFunc("DELETE /api/listings/{id}", h.Listings.CancelListing)
	mux.HandleFunc("POST /api/listings/{id}/buy", h.Listings.BuyListing)

	// Auctions.
	mux.HandleFunc("POST /api/auctions", h.Auctions.CreateAuction)
	mux.HandleFunc("GET /api/auctions/{id}", h.Auctions.GetAuction)
	mux.HandleFunc("POST /api/auctions/{id}/bids", h.Auctions.PlaceBid)
	mux.HandleFunc("GET /api/auctions/{id}/bids/{bidder}", h.Auctions.GetBid)
	mux.HandleFunc("POST /api/auctions/{id}/end", h.Auctions.EndAuction)

	// Offers.
	mux.HandleFunc("GET /api/offers", h.Offers.ListOffers)
	mux.HandleFunc("POST /api/offers", h.Offers.MakeOffer)
	mux.HandleFunc("POST /api/offers/reject", h.Offers.RejectOffers)
	mux.HandleFunc("GET /api/offers/{id}", h.Offers.GetOffer)
	mux.HandleFunc("POST /api/offers/{id}/accept", h.Offers.AcceptOffer)
	mux.HandleFunc("POST /api/offers/{id}/reclaim", h.Offers.ReclaimOffer)

	// Signature settlement.
	mux.HandleFunc("POST /api/settlements", h.Settlements.Settle)
	mux.HandleFunc("POST /api/settlements/bulk", h.Settlements.SettleBulk)
	mux.HandleFunc("POST /api/authorizations", h.Settlements.IssueAuthorization)

	// Administration.
	mux.HandleFunc("GET /api/fees", h.Admin.GetFees)
	mux.HandleFunc("PUT /api/admin/fees", h.Admin.SetFee)
	mux.HandleFunc("PUT /api/admin/offer-fees", h.Admin.SetOfferFee)
	mux.HandleFunc("PUT /api/admin/limits", h.Admin.SetLimits)
	mux.HandleFunc("PUT /api/admin/signer", h.Admin.SetSigner)
	mux.HandleFunc("POST /api/admin/withdrawals", h.Admin.WithdrawFees)
	mux.HandleFunc("GET /api/admin/audit", h.Admin.ListAudit)

	// Reads and substrate.
	mux.HandleFunc("GET /api/events", h.Market.ListEvents)
	mux.HandleFunc("GET /api/assets/{contract}/{tokenId}", h.Market.GetAsset)
	mux.HandleFunc("GET /api/balances/{address}", h.Market.GetBalances)
	mux.HandleFunc("POST /api/approvals", h.Market.SetApproval)
}

// buildChain wraps the mux. Metrics sit directly around the mux so the
// matched pattern is visible after routing; rate limiting runs after auth so
// it can key on the caller.
func buildChain(mux *http.ServeMux, cfg Config, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	var h http.Handler = mux
	if m != nil {
		h = m.Instrument(h)
	}
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, window, logger)(h)
	}

	auth := cfg.Auth
	auth.Public = append(append([]string{}, auth.Public...), publicPaths...)
	h = middleware.Auth(auth)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
