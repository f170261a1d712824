package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dualbond/native/bank"
	"dualbond/native/bond"
	"dualbond/observability/metrics"
	"dualbond/services/bondd/journal"
)

// EventSource lists journaled bond events.
type EventSource interface {
	List(ctx context.Context, bond common.Address, eventType string, limit int) ([]journal.Entry, error)
}

// Config wires the API to the node components.
type Config struct {
	ServiceName    string
	Registry       *bond.Registry
	Ledger         *bank.Ledger
	Events         EventSource
	Auth           *Authenticator
	RateLimiter    *RateLimiter
	Metrics        *metrics.HTTPMetrics
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// Server exposes the bond engines over HTTP.
type Server struct {
	registry *bond.Registry
	ledger   *bank.Ledger
	events   EventSource
	logger   *slog.Logger
	router   chi.Router
}

// New builds the router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "bondd"
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	s := &Server{
		registry: cfg.Registry,
		ledger:   cfg.Ledger,
		events:   cfg.Events,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(observe(cfg.ServiceName, cfg.Metrics, logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", cfg.MetricsHandler)

	r.Route("/v1", func(v1 chi.Router) {
		// reads
		v1.Group(func(pub chi.Router) {
			pub.Use(cfg.RateLimiter.Middleware("read"))
			pub.Get("/bonds", s.listBonds)
			pub.Get("/bonds/{bond}", s.getBond)
			pub.Get("/bonds/{bond}/claims/{holder}", s.getClaims)
			pub.Get("/bonds/{bond}/events", s.listEvents)
			pub.Get("/assets/{symbol}/balances/{holder}", s.getAssetBalance)
		})
		// writes
		v1.Group(func(priv chi.Router) {
			if cfg.Auth != nil {
				priv.Use(cfg.Auth.Middleware)
			}
			priv.Use(cfg.RateLimiter.Middleware("write"))
			priv.Post("/bonds/{bond}/deposit", s.deposit)
			priv.Post("/bonds/{bond}/redeem", s.redeem)
			priv.Post("/bonds/{bond}/finalize", s.finalize)
			priv.Post("/bonds/{bond}/claims/transfer", s.transferClaims)
			priv.Post("/bonds/{bond}/claims/transfer-from", s.transferClaimsFrom)
			priv.Post("/bonds/{bond}/claims/approve", s.approveClaims)
			priv.Post("/bonds/{bond}/admin/oracle", s.setOracle)
			priv.Post("/bonds/{bond}/admin/rescue", s.rescue)
			priv.Post("/assets/{symbol}/approve", s.approveAsset)
		})
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
