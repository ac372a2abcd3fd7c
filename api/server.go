package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"evsales-dashboard/aggregator"
	"evsales-dashboard/database"
	"evsales-dashboard/database/sales"
	"evsales-dashboard/ingest"
	"evsales-dashboard/metrics"
	"evsales-dashboard/realtime"
)

// Server handles HTTP API requests
type Server struct {
	db         *database.Database
	analytics  *aggregator.Service
	pipeline   *ingest.Pipeline
	runs       *sales.Repository
	broker     *realtime.Broker
	metrics    *metrics.Metrics
	httpServer *http.Server
	mu         sync.Mutex
}

// NewServer creates a new API server instance. pipeline, broker and m may be nil;
// the routes they back are then not registered.
func NewServer(db *database.Database, analytics *aggregator.Service, pipeline *ingest.Pipeline, broker *realtime.Broker, m *metrics.Metrics) *Server {
	return &Server{
		db:        db,
		analytics: analytics,
		pipeline:  pipeline,
		runs:      sales.NewRepository(db.DB()),
		broker:    broker,
		metrics:   m,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware, s.loggingMiddleware)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if s.broker != nil {
			r.Get("/events", s.broker.ServeHTTP) // SSE
			r.Get("/ws", s.broker.ServeWS)
		}

		r.Get("/companies", s.handleCompanies)
		r.Get("/charts", s.handleCharts)

		r.Route("/sales", func(r chi.Router) {
			r.Get("/comparison", s.handleCompanyComparison)
			r.Get("/growth", s.handleGrowth)
			r.Get("/market", s.handleMarket)
			r.Get("/lifecycle", s.handleLifecycle)
			r.Get("/pricing", s.handlePricing)
			r.Get("/valuation", s.handleValuation)
			r.Get("/ranking", s.handleRanking)
			r.Get("/models", s.handleModels)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/runs", s.handleSyncRuns)
			if s.pipeline != nil {
				r.Post("/sales", s.handleSyncSales)
				r.Post("/stocks", s.handleSyncStocks)
				r.Post("/enrich", s.handleSyncEnrich)
			}
		})
	})

	return r
}

// Start serves the API on port until Shutdown is called.
func (s *Server) Start(port int) error {
	serverAddr := fmt.Sprintf("0.0.0.0:%d", port)
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	zap.S().Infof("🚀 API Server starting on %s", serverAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		zap.L().Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)),
		)
	})
}

// Handlers are distributed across multiple files:
// - handlers_sales.go: companies, comparison chart and sales analytics
// - handlers_sync.go: ingestion triggers, sync history, health check
