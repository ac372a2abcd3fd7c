package aggregator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"evsales-dashboard/cache"
	"evsales-dashboard/database"
	dbanalytics "evsales-dashboard/database/analytics"
	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/database/sales"
	"evsales-dashboard/database/types"
	"evsales-dashboard/helpers"
	"evsales-dashboard/metrics"
)

// FundamentalsProvider supplies market cap and financial-statement fields for a ticker.
// A nil result with a nil error means the provider has nothing for the ticker.
type FundamentalsProvider interface {
	Fundamentals(ctx context.Context, symbol string) (*types.Fundamentals, error)
}

// Service loads persisted series and runs the compute functions over them.
type Service struct {
	repo         *dbanalytics.Repository
	sales        *sales.Repository
	cache        *cache.AnalyticsCache
	fundamentals FundamentalsProvider
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewService creates the analytics service. cache and fundamentals may be nil.
func NewService(db *database.Database, analyticsCache *cache.AnalyticsCache, fundamentals FundamentalsProvider) *Service {
	return &Service{
		repo:         dbanalytics.NewRepository(db.DB()),
		sales:        sales.NewRepository(db.DB()),
		cache:        analyticsCache,
		fundamentals: fundamentals,
		now:          time.Now,
	}
}

// WithMetrics attaches cache hit/miss counters.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// cached returns the cached value for (kind, params) or computes and stores it.
func cached[T any](ctx context.Context, s *Service, kind string, params interface{}, compute func() (T, error)) (T, error) {
	var out T
	if s.cache.Enabled() {
		hit := s.cache.Get(ctx, kind, params, &out)
		s.metrics.CacheLookup(kind, hit)
		if hit {
			return out, nil
		}
	}
	out, err := compute()
	if err != nil {
		return out, err
	}
	s.cache.Set(ctx, kind, params, out)
	return out, nil
}

// Comparison normalizes a company's stock and sales series within [from, to] against
// their first values in that window. Zero bounds leave the window open.
// It returns database.NotFoundError when the company does not exist.
func (s *Service) Comparison(ctx context.Context, companyID uint, period models.PeriodType, source models.Source, from, to time.Time) (Comparison, error) {
	params := []interface{}{companyID, period, source, from, to}
	return cached(ctx, s, "comparison", params, func() (Comparison, error) {
		company, err := s.repo.GetCompany(ctx, companyID)
		if err != nil {
			return Comparison{}, err
		}
		if company == nil {
			return Comparison{}, database.NewNotFoundErrorWithID("company", companyID)
		}

		prices, err := s.repo.StockPrices(ctx, companyID, from, to)
		if err != nil {
			return Comparison{}, err
		}
		records, err := s.repo.CompanySalesSeries(ctx, companyID, period, source, from, to)
		if err != nil {
			return Comparison{}, err
		}

		stock := make([]Observation, 0, len(prices))
		for _, p := range prices {
			stock = append(stock, Observation{Date: p.Date, Value: p.ClosePrice})
		}
		volumes := make([]Observation, 0, len(records))
		for _, r := range records {
			volumes = append(volumes, Observation{Date: r.Date, Value: float64(r.Volume)})
		}
		return Compare(stock, volumes), nil
	})
}

// Growth computes the YoY matrix of year.
func (s *Service) Growth(ctx context.Context, year int, source models.Source) (GrowthMatrix, error) {
	params := []interface{}{year, source}
	return cached(ctx, s, "growth", params, func() (GrowthMatrix, error) {
		from, to := PolicyWindow(year)

		companies, err := s.repo.Companies(ctx, nil)
		if err != nil {
			return GrowthMatrix{}, err
		}
		records, err := s.repo.CompanyRecordsBetween(ctx, source, from, to, nil)
		if err != nil {
			return GrowthMatrix{}, err
		}
		policies, err := s.repo.PoliciesBetween(ctx, from, to)
		if err != nil {
			return GrowthMatrix{}, err
		}
		return Growth(year, companies, records, policies), nil
	})
}

// Market computes the concentration trend over the most recent reporting months.
func (s *Service) Market(ctx context.Context, source models.Source) ([]ConcentrationMonth, error) {
	return cached(ctx, s, "market", source, func() ([]ConcentrationMonth, error) {
		months, err := s.repo.RecentCompanyMonths(ctx, source, database.ConcentrationMonths)
		if err != nil {
			return nil, err
		}
		records, err := s.repo.CompanyRecordsIn(ctx, source, months)
		if err != nil {
			return nil, err
		}
		return Concentration(records, database.ConcentrationMonths), nil
	})
}

// Lifecycle aligns the requested models, or the top models by peak volume when none are given.
func (s *Service) Lifecycle(ctx context.Context, source models.Source, modelIDs []uint) ([]LifecycleSeries, error) {
	params := []interface{}{source, modelIDs}
	return cached(ctx, s, "lifecycle", params, func() ([]LifecycleSeries, error) {
		ids := modelIDs
		if len(ids) == 0 {
			peaks, err := s.repo.TopModelsByPeak(ctx, source, database.LifecycleTopModels)
			if err != nil {
				return nil, err
			}
			for _, p := range peaks {
				ids = append(ids, p.ModelID)
			}
		}

		carModels, err := s.repo.ModelsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		byID := make(map[uint]models.CarModel, len(carModels))
		for _, m := range carModels {
			byID[m.ID] = m
		}

		out := []LifecycleSeries{}
		for _, id := range ids {
			model, ok := byID[id]
			if !ok {
				continue
			}
			records, err := s.repo.ModelSeries(ctx, id, source)
			if err != nil {
				return nil, err
			}
			if series, ok := Lifecycle(model, records); ok {
				out = append(out, series)
			}
		}
		return out, nil
	})
}

// Pricing computes the discount trend over the most recent reporting months.
func (s *Service) Pricing(ctx context.Context, source models.Source) (PricingTrend, error) {
	return cached(ctx, s, "pricing", source, func() (PricingTrend, error) {
		months, err := s.repo.RecentCompanyMonths(ctx, source, database.PricingTrendMonths)
		if err != nil {
			return PricingTrend{}, err
		}
		if len(months) == 0 {
			return Pricing(nil, nil), nil
		}
		from := months[0]
		to := months[len(months)-1].AddDate(0, 1, 0)
		prices, err := s.repo.PriceRecordsBetween(ctx, from, to)
		if err != nil {
			return PricingTrend{}, err
		}
		return Pricing(months, prices), nil
	})
}

// Valuation builds the cross-section for listed companies. A provider failure for one
// ticker only drops that company.
func (s *Service) Valuation(ctx context.Context, source models.Source) ([]ValuationRow, error) {
	return cached(ctx, s, "valuation", source, func() ([]ValuationRow, error) {
		companies, err := s.sales.ListListedCompanies(ctx)
		if err != nil {
			return nil, err
		}

		to := helpers.MonthStart(s.now(), time.UTC)
		from := to.AddDate(0, -database.ValuationTrailingMonths, 0)
		volumes, err := s.repo.CompanyVolumesBetween(ctx, source, from, to.AddDate(0, 0, -1))
		if err != nil {
			return nil, err
		}
		byCompany := make(map[uint]int64, len(volumes))
		for _, v := range volumes {
			byCompany[v.CompanyID] = v.Volume
		}

		inputs := make([]ValuationInput, 0, len(companies))
		for _, c := range companies {
			in := ValuationInput{Company: c, AnnualSales: byCompany[c.ID]}
			if s.fundamentals != nil {
				f, err := s.fundamentals.Fundamentals(ctx, *c.StockSymbol)
				if err != nil {
					zap.L().Warn("Fundamentals unavailable", zap.String("symbol", *c.StockSymbol), zap.Error(err))
				}
				in.Fundamentals = f
			}
			inputs = append(inputs, in)
		}
		return Valuation(inputs), nil
	})
}

// Ranking ranks companies (or models) by volume for one YYYYMM period.
func (s *Service) Ranking(ctx context.Context, period string, source models.Source, modelLevel bool) ([]RankingEntry, error) {
	month, err := helpers.ParsePeriod(period)
	if err != nil {
		return nil, database.NewValidationErrorWithValue("date", err.Error(), period)
	}
	limit := database.CompanyRankingLimit
	if modelLevel {
		limit = database.ModelRankingLimit
	}
	records, err := s.sales.Ranking(ctx, month, source, modelLevel, limit)
	if err != nil {
		return nil, err
	}
	return Ranking(records, modelLevel), nil
}

// Models lists a company's model breakdown for one YYYYMM period.
func (s *Service) Models(ctx context.Context, companyID uint, period string, source models.Source) ([]sales.ModelVolume, error) {
	month, err := helpers.ParsePeriod(period)
	if err != nil {
		return nil, database.NewValidationErrorWithValue("date", err.Error(), period)
	}
	rows, err := s.sales.ModelBreakdown(ctx, companyID, month, source)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []sales.ModelVolume{}
	}
	return rows, nil
}

// CompanyComparison lays out several companies' monthly volumes of one year side by side.
func (s *Service) CompanyComparison(ctx context.Context, companyIDs []uint, year int, source models.Source) ([]CompanyYear, error) {
	if len(companyIDs) == 0 {
		return nil, database.NewValidationErrorWithValue("ids", "at least one company ID is required", nil)
	}
	companies, err := s.repo.Companies(ctx, companyIDs)
	if err != nil {
		return nil, err
	}
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	records, err := s.repo.CompanyRecordsBetween(ctx, source, from, to, companyIDs)
	if err != nil {
		return nil, fmt.Errorf("CompanyComparison: %w", err)
	}
	return YearMatrix(year, companies, records), nil
}

// Companies lists every known company.
func (s *Service) Companies(ctx context.Context) ([]models.Company, error) {
	return s.repo.Companies(ctx, nil)
}
