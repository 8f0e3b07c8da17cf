// internal/api/server.go
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/barkprotocol/token-sale-dapp/internal/purchase"
	"github.com/barkprotocol/token-sale-dapp/internal/sale"
	"github.com/barkprotocol/token-sale-dapp/internal/transaction"
)

const (
	shutdownTimeout = 10 * time.Second
	maxBodyBytes    = 1 << 16
)

// Sale is the purchase service as seen by HTTP handlers.
type Sale interface {
	Purchase(ctx context.Context, req sale.PurchaseRequest) (*purchase.Result, error)
	Rebuild(ctx context.Context, id uuid.UUID) (*purchase.Result, error)
	ReportBroadcastFailure(ctx context.Context, id uuid.UUID) error
	Delivery(ctx context.Context, id uuid.UUID) (*transaction.Payload, error)
	SaleInfo(ctx context.Context) (purchase.Info, error)
}

type Server struct {
	sale       Sale
	gatherer   prometheus.Gatherer
	limiter    *RateLimiter
	ready      func() error
	trustProxy bool
	logger     *zap.Logger
}

type Option func(*Server)

// WithReadiness makes /readyz answer 503 while ready returns an error.
func WithReadiness(ready func() error) Option {
	return func(s *Server) { s.ready = ready }
}

// WithTrustedProxy takes client addresses from X-Real-IP and X-Forwarded-For.
// Only enable it behind a proxy that overwrites those headers.
func WithTrustedProxy(trust bool) Option {
	return func(s *Server) { s.trustProxy = trust }
}

func NewServer(svc Sale, gatherer prometheus.Gatherer, limiter *RateLimiter, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		sale:     svc,
		gatherer: gatherer,
		limiter:  limiter,
		logger:   logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router. Rate limiting applies to /api only.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if s.trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}
		api.Use(chimw.AllowContentType("application/json"))
		api.Get("/sale-info", s.handleSaleInfo)
		api.Post("/purchase", s.handlePurchase)
		api.Route("/purchases/{id}", func(pr chi.Router) {
			pr.Post("/rebuild", s.handleRebuild)
			pr.Post("/cancel", s.handleCancel)
			pr.Post("/delivery", s.handleDelivery)
		})
	})
	return r
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			s.logger.Warn("Not ready", zap.Error(err))
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}
