package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"evsales-dashboard/aggregator"
	"evsales-dashboard/api"
	"evsales-dashboard/cache"
	"evsales-dashboard/config"
	"evsales-dashboard/database"
	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/enrichment"
	"evsales-dashboard/ingest"
	"evsales-dashboard/metrics"
	"evsales-dashboard/notifications"
	"evsales-dashboard/realtime"
	"evsales-dashboard/rules"
)

// App represents the main application
type App struct {
	config    *config.Config
	db        *database.Database
	redis     *cache.RedisClient
	metrics   *metrics.Metrics
	rules     *rules.Rules
	pipeline  *ingest.Pipeline
	analytics *aggregator.Service
	broker    *realtime.Broker
	webhooks  *notifications.WebhookManager
	scheduler *SyncScheduler
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{
		config:  cfg,
		metrics: metrics.New(),
	}
}

// Init connects the store and Redis and builds every component. It is shared by
// the server and the one-shot commands.
func (a *App) Init(ctx context.Context) error {
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// 1. Database Connection
	zap.S().Info("🗄️  Connecting to database...")
	db, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if err := a.db.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}
	if a.config.SeedOnStart {
		if err := a.db.Seed(ctx); err != nil {
			return fmt.Errorf("seed failed: %w", err)
		}
	}

	// 2. Redis Connection
	zap.S().Info("🧠 Connecting to Redis...")
	a.redis = cache.NewRedisClient(a.config.RedisHost, a.config.RedisPort, a.config.RedisPassword)
	if a.redis == nil {
		zap.S().Warn("⚠️  Redis connection failed. Caching and event relay disabled.")
	}

	// 3. Rule tables
	r, err := rules.Load(a.config.RulesFile)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	a.rules = r

	// 4. Collaborators
	cfg := a.config
	loc := cfg.Sync.Location()
	analyticsCache := cache.NewAnalyticsCache(a.redis, cfg.AnalyticsCacheTTL)

	yahoo := ingest.NewYahooClient(
		ingest.NewFetcher("yahoo", cfg.Sync.UserAgent, cfg.Sync.RequestTimeout),
		cfg.Market.ChartURL,
		cfg.Market.QuoteURL,
	)
	fundamentals := ingest.NewCachedFundamentals(yahoo, a.redis, cfg.Market.FundamentalsTTL)

	sources, err := a.salesSources()
	if err != nil {
		return err
	}

	a.broker = realtime.NewBroker(a.redis)
	a.pipeline = ingest.NewPipeline(a.db, a.rules, ingest.Options{
		Months:          cfg.Sync.Months,
		StockYears:      cfg.Market.HistoryYears,
		PolitenessDelay: cfg.Sync.PolitenessDelay,
		Location:        loc,
	}).
		WithSources(sources...).
		WithStocks(yahoo).
		WithEnricher(enrichment.NewService(a.db, a.rules, a.metrics, loc)).
		WithCache(analyticsCache).
		WithMetrics(a.metrics).
		AddNotifier(a.broker)

	if cfg.Webhook.URL != "" {
		a.webhooks = notifications.NewWebhookManager([]notifications.Webhook{{
			URL:        cfg.Webhook.URL,
			AuthHeader: cfg.Webhook.AuthHeader,
			AuthValue:  cfg.Webhook.AuthValue,
			Statuses:   cfg.Webhook.Statuses,
			RetryCount: cfg.Webhook.RetryCount,
			RetryDelay: cfg.Webhook.RetryDelay,
		}}, a.redis)
		a.pipeline.AddNotifier(a.webhooks)
		zap.S().Infof("✅ Sync webhook enabled: %s", cfg.Webhook.URL)
	}

	a.analytics = aggregator.NewService(a.db, analyticsCache, fundamentals).WithMetrics(a.metrics)
	return nil
}

func (a *App) openDatabase(ctx context.Context) (*database.Database, error) {
	cfg := a.config
	if cfg.DatabaseDriver == "sqlite" {
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", database.ErrStoreUnavailable, err)
		}
		return db, nil
	}

	dbPort, err := strconv.Atoi(cfg.DatabasePort)
	if err != nil {
		return nil, fmt.Errorf("invalid database port: %w", err)
	}
	if err := database.Preflight(ctx, database.Config{
		Host:     cfg.DatabaseHost,
		Port:     cfg.DatabasePort,
		User:     cfg.DatabaseUser,
		Password: cfg.DatabasePassword,
		DBName:   cfg.DatabaseName,
	}); err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.DatabaseHost, dbPort, cfg.DatabaseName, cfg.DatabaseUser, cfg.DatabasePassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", database.ErrStoreUnavailable, err)
	}
	return db, nil
}

// salesSources builds the providers named in SYNC_SOURCES.
func (a *App) salesSources() ([]ingest.SalesDataSource, error) {
	cfg := a.config.Sync
	var sources []ingest.SalesDataSource
	for _, name := range cfg.Sources {
		tag, ok := models.ParseSalesSource(strings.ToUpper(name))
		if !ok {
			return nil, fmt.Errorf("%w: %s", ingest.ErrUnknownSource, name)
		}
		fetcher := ingest.NewFetcher(string(tag), cfg.UserAgent, cfg.RequestTimeout)
		switch tag {
		case models.SourceGasgoo:
			sources = append(sources, ingest.NewGasgooSource(fetcher, cfg.GasgooURL))
		case models.SourceCPCA:
			sources = append(sources, ingest.NewCPCASource(fetcher, cfg.CPCAURL))
		case models.SourceDCD:
			sources = append(sources, ingest.NewDongchediSource(fetcher, cfg.DongchediURL, cfg.DongchediLimit))
		}
	}
	return sources, nil
}

// Start serves the API until an interrupt signal arrives.
func (a *App) Start() error {
	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port, err := strconv.Atoi(a.config.HTTPPort)
	if err != nil {
		return fmt.Errorf("invalid HTTP port: %w", err)
	}
	if err := a.Init(ctx); err != nil {
		a.Close()
		return err
	}

	var wg sync.WaitGroup

	// Realtime broker and cross-process relay
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.broker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.broker.Relay(ctx)
	}()

	// Background sync
	if a.config.Sync.Interval > 0 {
		a.scheduler = NewSyncScheduler(a.pipeline, a.config.Sync.Interval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.scheduler.Start(ctx)
		}()
	} else {
		zap.S().Info("ℹ️  Background sync DISABLED (SYNC_INTERVAL=0)")
	}

	apiServer := api.NewServer(a.db, a.analytics, a.pipeline, a.broker, a.metrics)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start(port)
	}()

	err = a.gracefulShutdown(cancel, apiServer, serverErr)
	wg.Wait()
	a.Close()
	return err
}

// gracefulShutdown handles graceful shutdown with timeout
func (a *App) gracefulShutdown(cancel context.CancelFunc, apiServer *api.Server, serverErr <-chan error) error {
	// Setup signal handling
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	select {
	case <-interrupt:
		zap.S().Info("🛑 Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		cancel()
		return fmt.Errorf("API server failed: %w", err)
	}

	// Cancel context to stop all goroutines
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zap.S().Warnf("⚠️  API server shutdown: %v", err)
	}

	shutdownComplete := make(chan struct{})
	go func() {
		if a.scheduler != nil {
			zap.S().Info("⏰ Stopping sync scheduler...")
			a.scheduler.Stop()
		}
		if a.webhooks != nil {
			a.webhooks.Wait()
		}
		close(shutdownComplete)
	}()

	// Wait for shutdown to complete or timeout
	select {
	case <-shutdownComplete:
		zap.S().Info("✅ Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		zap.S().Warn("⚠️  Shutdown timeout exceeded, forcing exit")
		return fmt.Errorf("shutdown timeout")
	}
}

// RunSync runs one ingestion pass and returns. An empty source runs every
// configured source, then stocks, then enrichment.
func (a *App) RunSync(ctx context.Context, source string, months int) error {
	defer a.Close()
	if err := a.Init(ctx); err != nil {
		return err
	}

	var reports []*ingest.Report
	var err error
	switch strings.ToUpper(source) {
	case "":
		reports, err = a.pipeline.SyncAll(ctx)
	case "STOCKS":
		var r *ingest.Report
		r, err = a.pipeline.SyncStocks(ctx)
		reports = appendReport(reports, r)
	default:
		tag, ok := models.ParseSalesSource(strings.ToUpper(source))
		if !ok {
			return fmt.Errorf("%w: %s", ingest.ErrUnknownSource, source)
		}
		var r *ingest.Report
		r, err = a.pipeline.SyncSales(ctx, tag, months)
		reports = appendReport(reports, r)
	}

	for _, r := range reports {
		zap.S().Infof("📋 %s %s: %s, %d/%d matched, %d written, %d failures",
			r.Kind, r.Source, r.Status, r.Matched, r.Total, r.Written, r.Failures())
	}
	return err
}

// RunEnrich classifies every model and fills synthetic prices.
func (a *App) RunEnrich(ctx context.Context) error {
	defer a.Close()
	if err := a.Init(ctx); err != nil {
		return err
	}

	_, err := a.pipeline.Enrich(ctx)
	return err
}

// RunSeed upserts the default companies and policies.
func (a *App) RunSeed(ctx context.Context) error {
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	db, err := a.openDatabase(ctx)
	if err != nil {
		return err
	}
	a.db = db
	defer a.Close()

	if err := a.db.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}
	return a.db.Seed(ctx)
}

func appendReport(reports []*ingest.Report, r *ingest.Report) []*ingest.Report {
	if r == nil {
		return reports
	}
	return append(reports, r)
}

// Close releases the store and Redis.
func (a *App) Close() {
	if a.webhooks != nil {
		a.webhooks.Wait()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			zap.S().Warnf("⚠️  Error closing database: %v", err)
		} else {
			zap.S().Info("✅ Database connection closed")
		}
		a.db = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			zap.S().Warnf("⚠️  Error closing redis: %v", err)
		} else {
			zap.S().Info("✅ Redis connection closed")
		}
		a.redis = nil
	}
}
