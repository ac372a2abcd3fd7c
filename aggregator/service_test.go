package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"evsales-dashboard/database"
	"evsales-dashboard/database/dbtest"
	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/database/sales"
	"evsales-dashboard/database/types"
)

type stubFundamentals map[string]*types.Fundamentals

func (s stubFundamentals) Fundamentals(_ context.Context, symbol string) (*types.Fundamentals, error) {
	f, ok := s[symbol]
	if !ok {
		return nil, errors.New("no data")
	}
	return f, nil
}

func upsert(t *testing.T, repo *sales.Repository, companyID uint, modelID *uint, date time.Time, volume int64) {
	t.Helper()
	key := sales.Key{CompanyID: companyID, ModelID: modelID, Date: date, PeriodType: models.PeriodMonth, Source: models.SourceGasgoo}
	if _, err := repo.UpsertSales(context.Background(), key, volume); err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func TestServiceGrowthAndMarket(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	repo := sales.NewRepository(db.DB())
	svc := NewService(db, nil, nil)
	ctx := context.Background()

	upsert(t, repo, 1, nil, month(2024, time.January), 1000)
	upsert(t, repo, 1, nil, month(2025, time.January), 1500)
	upsert(t, repo, 2, nil, month(2025, time.January), 500)

	growth, err := svc.Growth(ctx, 2025, models.SourceGasgoo)
	if err != nil {
		t.Fatal(err)
	}
	if len(growth.Growth) != 1 || *growth.Growth[0].Data[0] != 50.0 {
		t.Errorf("unexpected growth %+v", growth.Growth)
	}
	if len(growth.Policies) != 2 {
		t.Errorf("expected the two seeded 2024 policies, got %d", len(growth.Policies))
	}

	market, err := svc.Market(ctx, models.SourceGasgoo)
	if err != nil {
		t.Fatal(err)
	}
	if len(market) != 2 {
		t.Fatalf("expected 2 months, got %d", len(market))
	}
	latest := market[1]
	if latest.Date != "2025-01" || latest.TotalVolume != 2000 || !approx(latest.CR3, 100) {
		t.Errorf("unexpected latest month %+v", latest)
	}
	if latest.TopPlayers[0].Name != "比亚迪 (BYD)" {
		t.Errorf("company names should be loaded, got %q", latest.TopPlayers[0].Name)
	}
}

func TestServiceComparisonUnknownCompany(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	svc := NewService(db, nil, nil)

	_, err := svc.Comparison(context.Background(), 999, models.PeriodMonth, models.SourceGasgoo, time.Time{}, time.Time{})
	if !database.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceLifecycleTopModels(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	repo := sales.NewRepository(db.DB())
	svc := NewService(db, nil, nil)
	ctx := context.Background()

	small, _ := repo.UpsertModel(ctx, 1, "海鸥")
	big, _ := repo.UpsertModel(ctx, 6, "小米SU7")
	upsert(t, repo, 1, &small.ID, month(2024, time.March), 100)
	upsert(t, repo, 6, &big.ID, month(2024, time.May), 2000)
	upsert(t, repo, 6, &big.ID, month(2024, time.April), 1000)

	series, err := svc.Lifecycle(ctx, models.SourceGasgoo, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 2 || series[0].ID != big.ID {
		t.Fatalf("expected peak-ordered series, got %+v", series)
	}
	if series[0].LaunchDate != "2024-04" || series[0].Series[0].MonthIndex != 0 || series[0].Series[1].MonthIndex != 1 {
		t.Errorf("unexpected series %+v", series[0])
	}
}

func TestServicePricingFallsBackWithoutPrices(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	repo := sales.NewRepository(db.DB())
	svc := NewService(db, nil, nil)

	upsert(t, repo, 1, nil, month(2024, time.November), 10)
	upsert(t, repo, 1, nil, month(2024, time.December), 10)

	trend, err := svc.Pricing(context.Background(), models.SourceGasgoo)
	if err != nil {
		t.Fatal(err)
	}
	if len(trend.Trend) != 2 {
		t.Fatalf("expected 2 months, got %d", len(trend.Trend))
	}
	for _, p := range trend.Trend {
		if p.SampleCount != 0 || !p.Simulated {
			t.Errorf("expected simulated point, got %+v", p)
		}
	}
}

func TestServicePricingCountsWholeLastMonth(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	repo := sales.NewRepository(db.DB())
	svc := NewService(db, nil, nil)
	ctx := context.Background()

	upsert(t, repo, 1, nil, month(2024, time.November), 10)
	upsert(t, repo, 1, nil, month(2024, time.December), 10)

	m, err := repo.UpsertModel(ctx, 1, "汉")
	if err != nil {
		t.Fatal(err)
	}
	rate := 0.08
	late := time.Date(2024, time.December, 31, 18, 30, 0, 0, time.UTC)
	if _, err := repo.UpsertPriceRecord(ctx, models.PriceRecord{
		ModelID: m.ID, Date: late, Source: models.SourceDCD,
		GuidePrice: 200000, TerminalPrice: 184000, DiscountRate: &rate,
	}); err != nil {
		t.Fatal(err)
	}

	trend, err := svc.Pricing(ctx, models.SourceGasgoo)
	if err != nil {
		t.Fatal(err)
	}
	if len(trend.Trend) != 2 {
		t.Fatalf("expected 2 months, got %d", len(trend.Trend))
	}
	dec := trend.Trend[1]
	if dec.Date != "2024-12" || dec.SampleCount != 1 || dec.Simulated {
		t.Errorf("observation late on the last day should count for its month, got %+v", dec)
	}
}

func TestServiceValuationOmitsMissingFundamentals(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	repo := sales.NewRepository(db.DB())
	mcap, revenue := 2000.0, 1000.0
	svc := NewService(db, nil, stubFundamentals{
		"1211.HK": {MarketCap: &mcap, Revenue: &revenue},
	})
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC) }

	upsert(t, repo, 1, nil, month(2025, time.February), 40)
	upsert(t, repo, 1, nil, month(2024, time.March), 60)
	upsert(t, repo, 1, nil, month(2024, time.February), 1000) // outside the trailing window
	upsert(t, repo, 1, nil, month(2025, time.March), 1000)    // current month excluded

	rows, err := svc.Valuation(context.Background(), models.SourceGasgoo)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected only the company with fundamentals, got %d", len(rows))
	}
	if rows[0].AnnualSales != 100 {
		t.Errorf("annual sales = %d, want 100", rows[0].AnnualSales)
	}
	if rows[0].PS == nil || *rows[0].PS != 2 {
		t.Errorf("PS = %v, want 2", rows[0].PS)
	}
	if rows[0].MarketCapPerUnit == nil || *rows[0].MarketCapPerUnit != 20 {
		t.Errorf("mcap/unit = %v, want 20", rows[0].MarketCapPerUnit)
	}
}
