package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"evsales-dashboard/cache"
	"evsales-dashboard/database"
	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/database/sales"
	"evsales-dashboard/database/types"
	"evsales-dashboard/enrichment"
	"evsales-dashboard/helpers"
	"evsales-dashboard/metrics"
	"evsales-dashboard/rules"
)

var (
	// ErrUnknownSource is returned for a sales source that is not registered.
	ErrUnknownSource = errors.New("unknown sales source")
	// ErrSyncInProgress is returned when another run holds the pipeline.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// StockSource supplies daily closing prices.
type StockSource interface {
	DailyCloses(ctx context.Context, symbol string, from, to time.Time) ([]types.StockQuote, error)
}

// Enricher runs the model metadata pass.
type Enricher interface {
	Run(ctx context.Context) (*enrichment.Result, error)
}

// Options tunes the pipeline.
type Options struct {
	Months          int            // sales windows per run
	StockYears      int            // daily close history per run
	PolitenessDelay time.Duration  // pause between provider requests
	Location        *time.Location // reporting time zone
}

// Pipeline drives ingestion: fetch, resolve, upsert, then report.
// Runs are serialized; a second concurrent run fails with ErrSyncInProgress.
// The lock is per process: a CLI sync and a server sync can still overlap.
type Pipeline struct {
	db        *database.Database
	repo      *sales.Repository
	rules     *rules.Rules
	sources   map[models.Source]SalesDataSource
	stocks    StockSource
	enricher  Enricher
	cache     *cache.AnalyticsCache
	metrics   *metrics.Metrics
	notifiers []Notifier
	opts      Options
	now       func() time.Time
	mu        sync.Mutex
}

// NewPipeline creates a pipeline writing to db.
func NewPipeline(db *database.Database, r *rules.Rules, opts Options) *Pipeline {
	if opts.Months <= 0 {
		opts.Months = database.DefaultSyncMonths
	}
	if opts.StockYears <= 0 {
		opts.StockYears = database.DefaultStockHistoryYears
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Pipeline{
		db:      db,
		repo:    sales.NewRepository(db.DB()),
		rules:   r,
		sources: make(map[models.Source]SalesDataSource),
		opts:    opts,
		now:     time.Now,
	}
}

// WithSources registers sales providers by their tag.
func (p *Pipeline) WithSources(srcs ...SalesDataSource) *Pipeline {
	for _, s := range srcs {
		p.sources[s.Tag()] = s
	}
	return p
}

func (p *Pipeline) WithStocks(s StockSource) *Pipeline {
	p.stocks = s
	return p
}

func (p *Pipeline) WithEnricher(e Enricher) *Pipeline {
	p.enricher = e
	return p
}

// WithCache sets the analytics cache invalidated after every run that wrote data.
func (p *Pipeline) WithCache(c *cache.AnalyticsCache) *Pipeline {
	p.cache = c
	return p
}

func (p *Pipeline) WithMetrics(m *metrics.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// AddNotifier registers a listener for finished runs.
func (p *Pipeline) AddNotifier(n Notifier) *Pipeline {
	p.notifiers = append(p.notifiers, n)
	return p
}

// Sources lists the registered sales providers in canonical order.
func (p *Pipeline) Sources() []models.Source {
	var out []models.Source
	for _, s := range models.SalesSources {
		if _, ok := p.sources[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Months is the default number of sales windows per run.
func (p *Pipeline) Months() int {
	return p.opts.Months
}

func (p *Pipeline) preflight(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", database.ErrStoreUnavailable, err)
	}
	return nil
}

// storeLost distinguishes a dead store from a per-record failure after a write error.
func (p *Pipeline) storeLost(ctx context.Context, writeErr error) error {
	if errors.Is(writeErr, database.ErrStoreUnavailable) {
		return writeErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := p.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", database.ErrStoreUnavailable, writeErr)
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pendingSale is a resolved record waiting to be written. When records of one
// window share a natural key the later one replaces the earlier, as a repeated
// upsert would.
type pendingSale struct {
	company *models.Company
	model   string
	date    time.Time
	volume  int64
}

// SyncSales ingests the last months completed monthly windows from one provider,
// oldest first. A failed window is recorded and skipped; a lost store aborts the run.
// months <= 0 uses the configured default.
func (p *Pipeline) SyncSales(ctx context.Context, tag models.Source, months int) (*Report, error) {
	src, ok := p.sources[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, tag)
	}
	if months <= 0 {
		months = p.opts.Months
	}
	if !p.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer p.mu.Unlock()

	if err := p.preflight(ctx); err != nil {
		return nil, err
	}

	companies, err := p.repo.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	resolver := NewResolver(companies, p.rules.Aliases)

	report := newReport(KindSales, string(tag), p.now())
	tally := newCompanyTally()
	unresolved := make(map[string]bool)

	zap.S().Infof("🔄 Sales sync started: %s, %d months", tag, months)

	var runErr error
	for i, period := range helpers.RecentPeriods(p.now(), months, p.opts.Location) {
		if i > 0 {
			if runErr = wait(ctx, p.opts.PolitenessDelay); runErr != nil {
				break
			}
		}

		items, err := src.FetchWindow(ctx, period)
		if err != nil {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			zap.L().Warn("Sales window failed",
				zap.String("source", string(tag)),
				zap.String("period", period),
				zap.Error(err))
			report.Windows = append(report.Windows, WindowFailure{Period: period, Error: err.Error()})
			p.metrics.WindowFailed(string(tag))
			continue
		}
		p.metrics.RecordFetched(string(tag), len(items))

		pending := p.resolveWindow(tag, period, items, resolver, report, tally, unresolved)
		if runErr = p.writeWindow(ctx, tag, pending, report, tally); runErr != nil {
			break
		}
	}

	return p.finish(ctx, report, tally, unresolved, runErr)
}

func (p *Pipeline) resolveWindow(tag models.Source, period string, items []SalesItem, resolver *Resolver,
	report *Report, tally *companyTally, unresolved map[string]bool) []*pendingSale {

	var order []*pendingSale
	byKey := make(map[string]*pendingSale)

	for _, item := range items {
		report.Total++

		company, kind := resolver.Resolve(item.EntityName)
		if kind == MatchNone {
			report.Dropped++
			p.metrics.RecordDropped(string(tag))
			if len(unresolved) < maxUnresolvedNames {
				unresolved[item.EntityName] = true
			}
			continue
		}
		report.Matched++
		p.metrics.RecordMatched(string(tag), string(kind))

		itemPeriod := item.Period
		if itemPeriod == "" {
			itemPeriod = period
		}
		date, err := helpers.ParsePeriod(itemPeriod)
		if err != nil || item.Volume < 0 {
			res := tally.get(company)
			res.Failed++
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Error = fmt.Sprintf("negative volume %d", item.Volume)
			}
			continue
		}

		key := fmt.Sprintf("%d|%s|%s", company.ID, item.ModelName, itemPeriod)
		if ps, ok := byKey[key]; ok {
			ps.date = date
			ps.volume = item.Volume
			continue
		}
		ps := &pendingSale{company: company, model: item.ModelName, date: date, volume: item.Volume}
		byKey[key] = ps
		order = append(order, ps)
	}
	return order
}

func (p *Pipeline) writeWindow(ctx context.Context, tag models.Source, pending []*pendingSale, report *Report, tally *companyTally) error {
	written := 0
	defer func() { p.metrics.RecordWritten("sales", string(tag), written) }()

	for _, ps := range pending {
		res := tally.get(ps.company)

		key := sales.Key{
			CompanyID:  ps.company.ID,
			Date:       ps.date,
			PeriodType: models.PeriodMonth,
			Source:     tag,
		}
		if ps.model != "" {
			m, err := p.repo.UpsertModel(ctx, ps.company.ID, ps.model)
			if err != nil {
				if lost := p.storeLost(ctx, err); lost != nil {
					return lost
				}
				res.Failed++
				res.Error = err.Error()
				continue
			}
			key.ModelID = &m.ID
		}

		if _, err := p.repo.UpsertSales(ctx, key, ps.volume); err != nil {
			if lost := p.storeLost(ctx, err); lost != nil {
				return lost
			}
			zap.L().Warn("Sales write failed", zap.Stringer("key", key), zap.Error(err))
			res.Failed++
			res.Error = err.Error()
			continue
		}
		res.Succeeded++
		report.Written++
		written++
	}
	return nil
}

// SyncStocks refreshes daily closes for every listed company. A failing ticker
// is recorded against its company and the run moves on.
func (p *Pipeline) SyncStocks(ctx context.Context) (*Report, error) {
	if p.stocks == nil {
		return nil, errors.New("no stock source configured")
	}
	if !p.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer p.mu.Unlock()

	if err := p.preflight(ctx); err != nil {
		return nil, err
	}

	companies, err := p.repo.ListListedCompanies(ctx)
	if err != nil {
		return nil, err
	}

	report := newReport(KindStocks, "", p.now())
	tally := newCompanyTally()
	to := p.now()
	from := to.AddDate(-p.opts.StockYears, 0, 0)

	var runErr error
	for i := range companies {
		c := &companies[i]
		if i > 0 {
			if runErr = wait(ctx, p.opts.PolitenessDelay); runErr != nil {
				break
			}
		}

		res := tally.get(c)
		quotes, err := p.stocks.DailyCloses(ctx, *c.StockSymbol, from, to)
		if err != nil {
			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			zap.L().Warn("Stock fetch failed", zap.String("symbol", *c.StockSymbol), zap.Error(err))
			res.Failed++
			res.Error = err.Error()
			continue
		}
		report.Total += len(quotes)
		report.Matched += len(quotes)

		for _, q := range quotes {
			if _, err := p.repo.UpsertStockPrice(ctx, c.ID, q.Date, q.Close); err != nil {
				if runErr = p.storeLost(ctx, err); runErr != nil {
					break
				}
				res.Failed++
				res.Error = err.Error()
				continue
			}
			res.Succeeded++
			report.Written++
		}
		p.metrics.RecordWritten("stock", *c.StockSymbol, res.Succeeded)
		if runErr != nil {
			break
		}
	}

	return p.finish(ctx, report, tally, nil, runErr)
}

// Enrich runs the metadata pass and records it like any other run.
func (p *Pipeline) Enrich(ctx context.Context) (*Report, error) {
	if p.enricher == nil {
		return nil, errors.New("no enricher configured")
	}
	if !p.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer p.mu.Unlock()

	if err := p.preflight(ctx); err != nil {
		return nil, err
	}

	report := newReport(KindEnrich, "", p.now())
	res, runErr := p.enricher.Run(ctx)
	if res != nil {
		report.Total = res.Models
		report.Matched = res.Models - res.Failed
		report.Written = res.Updated + res.SyntheticPrices
		report.failed = res.Failed
		report.Detail = res
	}
	return p.finish(ctx, report, newCompanyTally(), nil, runErr)
}

// SyncAll runs every registered sales source, then stocks, then enrichment.
// Individual run errors are logged; only a lost store stops the sequence.
func (p *Pipeline) SyncAll(ctx context.Context) ([]*Report, error) {
	var reports []*Report
	keep := func(r *Report, err error) error {
		if r != nil {
			reports = append(reports, r)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, database.ErrStoreUnavailable) || ctx.Err() != nil {
			return err
		}
		zap.S().Warnf("⚠️  Sync step failed: %v", err)
		return nil
	}

	for _, tag := range p.Sources() {
		if err := keep(p.SyncSales(ctx, tag, 0)); err != nil {
			return reports, err
		}
	}
	if p.stocks != nil {
		if err := keep(p.SyncStocks(ctx)); err != nil {
			return reports, err
		}
	}
	if p.enricher != nil {
		if err := keep(p.Enrich(ctx)); err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// finish settles, persists and broadcasts a report. runErr is returned unchanged
// alongside the report so callers see both the outcome and the cause of an abort.
func (p *Pipeline) finish(ctx context.Context, report *Report, tally *companyTally, unresolved map[string]bool, runErr error) (*Report, error) {
	report.Companies = tally.results()
	for name := range unresolved {
		report.Unresolved = append(report.Unresolved, name)
	}
	sort.Strings(report.Unresolved)

	report.settle(p.now())
	if runErr != nil {
		report.Status = StatusFailed
		if report.Written > 0 {
			report.Status = StatusPartial
		}
	}

	// The audit row and notifications go out even when ctx was cancelled mid-run.
	bg := context.WithoutCancel(ctx)
	if run, err := report.syncRun(); err != nil {
		zap.L().Error("Failed to encode sync run", zap.Error(err))
	} else if err := p.repo.SaveSyncRun(bg, run); err != nil {
		zap.L().Error("Failed to save sync run", zap.String("id", run.ID), zap.Error(err))
	}

	p.metrics.SyncFinished(report.Kind, report.Status, report.FinishedAt.Sub(report.StartedAt))
	if report.Written > 0 {
		p.cache.Invalidate(bg)
	}
	for _, n := range p.notifiers {
		n.SyncCompleted(bg, report)
	}

	if report.Kind == KindSales {
		zap.S().Infof("✅ %s sync %s finished %s: %d/%d matched (%.1f%%), %d dropped, %d written, %d failures",
			report.Source, report.ID, report.Status, report.Matched, report.Total, report.Coverage(),
			report.Dropped, report.Written, report.Failures())
	} else {
		zap.S().Infof("✅ %s sync %s finished %s: %d total, %d written, %d failures",
			report.Kind, report.ID, report.Status, report.Total, report.Written, report.Failures())
	}

	return report, runErr
}
