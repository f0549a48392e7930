package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"launchpad/native/curve"
	"launchpad/observability"
	"launchpad/services/curved/index"
	"launchpad/services/curved/stream"
)

// Accounts exposes the balance operations the API serves. state.Manager
// satisfies it.
type Accounts interface {
	Credit(account common.Address, amount uint64) (uint64, error)
	BaseBalance(account common.Address) (uint64, error)
	Holdings(account common.Address) (map[common.Address]uint64, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	ListenAddress   string
	ShutdownTimeout time.Duration
	Engine          *curve.Engine
	Accounts        Accounts
	Index           *index.Index
	Hub             *stream.Hub
	Auth            AuthConfig
	AdminToken      string
	RateLimit       RateLimit
	Logger          *slog.Logger
	// TracerProvider and MeterProvider default to the otel globals.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Server is the curved HTTP API.
type Server struct {
	cfg      Config
	engine   *curve.Engine
	accounts Accounts
	index    *index.Index
	hub      *stream.Hub
	traders  *TraderAuthenticator
	admin    *AdminAuthenticator
	limiter  *RateLimiter
	otel     *engineTelemetry
	logger   *slog.Logger

	router http.Handler
}

// New validates the dependencies and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	if cfg.Accounts == nil {
		return nil, errors.New("server: accounts required")
	}
	if cfg.Index == nil {
		return nil, errors.New("server: index required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	traders, err := NewTraderAuthenticator(cfg.Auth, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	if cfg.Hub == nil {
		cfg.Hub = stream.NewHub(0, 0, cfg.Logger)
	}
	srv := &Server{
		cfg:      cfg,
		engine:   cfg.Engine,
		accounts: cfg.Accounts,
		index:    cfg.Index,
		hub:      cfg.Hub,
		traders:  traders,
		admin:    NewAdminAuthenticator(cfg.AdminToken),
		limiter:  NewRateLimiter(cfg.RateLimit),
		otel:     newEngineTelemetry(cfg.TracerProvider, cfg.MeterProvider),
		logger:   cfg.Logger.With("component", "http"),
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Traders returns the trader token authenticator.
func (s *Server) Traders() *TraderAuthenticator {
	return s.traders
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.limiter.Middleware)
		api.Get("/curves", s.handleListCurves)
		api.With(s.traders.Middleware).Post("/curves", s.handleCreateCurve)
		api.Route("/curves/{asset}", func(c chi.Router) {
			c.Get("/", s.handleGetCurve)
			c.Get("/quote/buy", s.handleQuote(curve.SideBuy))
			c.Get("/quote/sell", s.handleQuote(curve.SideSell))
			c.With(s.traders.Middleware).Post("/buy", s.handleBuy)
			c.With(s.traders.Middleware).Post("/sell", s.handleSell)
			c.Get("/trades", s.handleCurveTrades)
			c.Get("/export.parquet", s.handleExport)
		})
		api.Get("/accounts/{address}", s.handleAccount)
		api.Get("/accounts/{address}/trades", s.handleAccountTrades)
		api.Handle("/stream", s.hub)
	})

	r.With(s.admin.Middleware).Post("/admin/credit", s.handleCredit)

	return otelhttp.NewHandler(r, "curved")
}

// observe records request metrics under the matched route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.HTTP().Observe(route, r.Method, status, elapsed)
		s.logger.Debug("request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
			"request_id", chimw.GetReqID(r.Context()))
	})
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	<-done
	return nil
}
