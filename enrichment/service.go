package enrichment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"evsales-dashboard/database"
	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/database/sales"
	"evsales-dashboard/helpers"
	"evsales-dashboard/metrics"
	"evsales-dashboard/rules"
)

// Result summarizes one enrichment pass.
type Result struct {
	Models          int            `json:"models"`
	Updated         int            `json:"updated"`
	ByProvenance    map[string]int `json:"by_provenance"`
	SyntheticPrices int            `json:"synthetic_prices"`
	Failed          int            `json:"failed"`
}

// Service classifies every stored model and back-fills synthetic price history.
type Service struct {
	repo    *sales.Repository
	rules   *rules.Rules
	metrics *metrics.Metrics
	loc     *time.Location
	now     func() time.Time
}

// NewService creates an enrichment service. loc is the reporting time zone.
func NewService(db *database.Database, r *rules.Rules, m *metrics.Metrics, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		repo:    sales.NewRepository(db.DB()),
		rules:   r,
		metrics: m,
		loc:     loc,
		now:     time.Now,
	}
}

// Run enriches all models. Per-model failures are counted and logged; only a
// failure to list models aborts the pass.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	list, err := s.repo.ListModels(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{Models: len(list), ByProvenance: make(map[string]int)}
	periods := helpers.RecentPeriods(s.now(), s.rules.Pricing.Months, s.loc)

	for _, m := range list {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		companyName := ""
		if m.Company != nil {
			companyName = m.Company.Name
		}
		c := Classify(s.rules, m.Name, companyName)
		res.ByProvenance[string(c.Source)]++
		s.metrics.ModelClassified(string(c.Source))

		if c.Changed(m) {
			if err := s.repo.UpdateModelMetadata(ctx, m.ID, c.Category, c.EnergyType, c.Source); err != nil {
				zap.L().Warn("Failed to update model metadata", zap.Uint("model_id", m.ID), zap.Error(err))
				res.Failed++
				continue
			}
			res.Updated++
		}

		n, err := s.fillPrices(ctx, m, c, periods)
		res.SyntheticPrices += n
		if err != nil {
			zap.L().Warn("Failed to generate price history", zap.Uint("model_id", m.ID), zap.String("model", m.Name), zap.Error(err))
			res.Failed++
		}
	}

	zap.S().Infof("✅ Enrichment finished: %d models, %d updated, %d synthetic prices, %d failed",
		res.Models, res.Updated, res.SyntheticPrices, res.Failed)
	return res, nil
}

// fillPrices writes a synthetic record for every window month lacking a real one.
func (s *Service) fillPrices(ctx context.Context, m models.CarModel, c Classification, periods []string) (int, error) {
	if len(periods) == 0 {
		return 0, nil
	}
	first, err := helpers.ParsePeriod(periods[0])
	if err != nil {
		return 0, err
	}

	dates, err := s.repo.RealPriceMonths(ctx, m.ID, first)
	if err != nil {
		return 0, err
	}
	observed := make(map[string]bool, len(dates))
	for _, d := range dates {
		observed[helpers.FormatPeriod(d.UTC())] = true
	}

	written := 0
	for t, period := range periods {
		if observed[period] {
			continue
		}
		month, err := helpers.ParsePeriod(period)
		if err != nil {
			return written, err
		}
		if _, err := s.repo.UpsertPriceRecord(ctx, SyntheticRecord(s.rules.Pricing, m, c, month, t)); err != nil {
			return written, err
		}
		written++
	}
	s.metrics.RecordWritten("price", string(models.SourceSynthetic), written)
	return written, nil
}
