// Package api exposes ledger operations as an HTTP JSON API.
//
// Callers authenticate with an HS256 bearer token issued elsewhere; its
// subject is the user's public id. Every operation answers with a receipt
// {"success": bool, "message": string, ...fields}.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"amm-ledger/internal/accounts"
	"amm-ledger/internal/engagement"
	"amm-ledger/internal/exchange"
	"amm-ledger/internal/feed"
	"amm-ledger/internal/issuance"
	"amm-ledger/internal/observability"
	"amm-ledger/internal/queries"
	"amm-ledger/internal/storage"
	"amm-ledger/internal/transfer"
)

// Options for creating Server.
type Options struct {
	Accounts   *accounts.Service
	Issuance   *issuance.Service
	Transfer   *transfer.Service
	Exchange   *exchange.Service
	Engagement *engagement.Service
	Queries    *queries.Service

	// Users resolves token subjects.
	Users storage.Reader
	// Feed serves /ws/trades. Optional.
	Feed *feed.Hub

	JWTSecret []byte
	// RateLimit is mutating requests per second per user; <= 0 disables it.
	RateLimit float64
	Burst     int

	Logger *zap.Logger
	Now    func() time.Time
}

// Server routes HTTP requests to the ledger services.
type Server struct {
	accounts   *accounts.Service
	issuance   *issuance.Service
	transfer   *transfer.Service
	exchange   *exchange.Service
	engagement *engagement.Service
	queries    *queries.Service
	users      storage.Reader
	feed       *feed.Hub
	secret     []byte
	limiter    *rateLimiter
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a new Server.
func New(opts Options) *Server {
	s := &Server{
		accounts:   opts.Accounts,
		issuance:   opts.Issuance,
		transfer:   opts.Transfer,
		exchange:   opts.Exchange,
		engagement: opts.Engagement,
		queries:    opts.Queries,
		users:      opts.Users,
		feed:       opts.Feed,
		secret:     opts.JWTSecret,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.RateLimit > 0 {
		s.limiter = newRateLimiter(opts.RateLimit, opts.Burst)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.Handler())
	if s.feed != nil {
		r.Handle("/ws/trades", s.feed)
	}

	r.Post("/users", s.handleRegister)

	r.Get("/currencies", s.handleCurrencies)
	r.Get("/currencies/{symbol}", s.handleCurrencyDetails)
	r.Get("/currencies/{symbol}/price", s.handlePrice)
	r.Get("/quote", s.handleQuote)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/me", s.handleMe)
		r.Get("/me/wallets/{symbol}", s.handleWalletBalance)
		r.Get("/me/limits/{symbol}/buy", s.handleMaxBuy)
		r.Get("/me/limits/{symbol}/sell", s.handleMaxSell)
		r.Get("/me/history", s.handleHistory)
		r.Get("/me/history.csv", s.handleHistoryCSV)
		r.Get("/me/statement.md", s.handleStatement)
		r.Get("/me/ads", s.handleAdStatus)

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.handler)
			}
			r.Post("/me/login", s.handleLogin)
			r.Post("/currencies", s.handleCreateCurrency)
			r.Post("/transfers", s.handleTransfer)
			r.Post("/exchanges", s.handleExchange)
			r.Post("/me/ads/claim", s.handleClaim)
		})
	})

	return r
}
