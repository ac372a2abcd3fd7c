package ingest

import (
	"context"
	"errors"
	"sync"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"evsales-dashboard/database"
	"evsales-dashboard/database/dbtest"
	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/database/types"
	"evsales-dashboard/enrichment"
	"evsales-dashboard/rules"
)

type fakeSource struct {
	tag     models.Source
	windows map[string][]SalesItem
	errs    map[string]error
	calls   []string
}

func (f *fakeSource) Tag() models.Source { return f.tag }

func (f *fakeSource) FetchWindow(ctx context.Context, period string) ([]SalesItem, error) {
	f.calls = append(f.calls, period)
	if err := f.errs[period]; err != nil {
		return nil, err
	}
	return f.windows[period], nil
}

type fakeStocks struct {
	fail map[string]bool
}

func (f *fakeStocks) DailyCloses(ctx context.Context, symbol string, from, to time.Time) ([]types.StockQuote, error) {
	if f.fail[symbol] {
		return nil, errors.New("symbol may be delisted")
	}
	return []types.StockQuote{
		{Date: time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC), Close: 100},
		{Date: time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC), Close: 101.5},
	}, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	reports []*Report
}

func (n *recordingNotifier) SyncCompleted(ctx context.Context, r *Report) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, r)
}

func newTestPipeline(t *testing.T, db *database.Database) *Pipeline {
	t.Helper()
	r, err := rules.Default()
	if err != nil {
		t.Fatal(err)
	}
	p := NewPipeline(db, r, Options{Months: 3, Location: time.UTC})
	p.now = func() time.Time { return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC) }
	return p
}

func item(entity, model, period string, volume int64) SalesItem {
	return SalesItem{EntityName: entity, ModelName: model, Period: period, Volume: volume}
}

func countRows(t *testing.T, db *database.Database, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.DB().Model(model).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

func TestSyncSales(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	src := &fakeSource{
		tag: models.SourceGasgoo,
		windows: map[string][]SalesItem{
			"202412": {
				item("比亚迪汽车", "", "202412", 1000),
				item("腾势", "", "202412", 200),
				item("小鹏汽车", "", "202412", 300),
				item("未知品牌X", "", "202412", 50),
			},
			"202502": {item("理想汽车", "", "202502", 500)},
		},
		errs: map[string]error{"202501": errors.New("status 503")},
	}
	notifier := &recordingNotifier{}
	p := newTestPipeline(t, db).WithSources(src).AddNotifier(notifier)

	report, err := p.SyncSales(t.Context(), models.SourceGasgoo, 0)
	if err != nil {
		t.Fatalf("SyncSales: %v", err)
	}

	if want := []string{"202412", "202501", "202502"}; len(src.calls) != 3 || src.calls[0] != want[0] || src.calls[2] != want[2] {
		t.Errorf("windows fetched %v, want %v", src.calls, want)
	}
	if report.Total != 5 || report.Matched != 4 || report.Dropped != 1 || report.Written != 3 {
		t.Errorf("unexpected counts %+v", report)
	}
	if report.Status != StatusPartial {
		t.Errorf("status = %s, want PARTIAL", report.Status)
	}
	if len(report.Windows) != 1 || report.Windows[0].Period != "202501" {
		t.Errorf("window failures %+v", report.Windows)
	}
	if len(report.Unresolved) != 1 || report.Unresolved[0] != "未知品牌X" {
		t.Errorf("unresolved %v", report.Unresolved)
	}
	if len(report.Companies) != 3 || report.Companies[0].Company != "比亚迪 (BYD)" || report.Companies[0].Succeeded != 1 {
		t.Errorf("company results %+v", report.Companies)
	}

	var byd models.SalesRecord
	if err := db.DB().Where("company_id = ? AND source = ?", 1, models.SourceGasgoo).First(&byd).Error; err != nil {
		t.Fatal(err)
	}
	if byd.Volume != 200 {
		t.Errorf("later record for the same company and month should win, got %d", byd.Volume)
	}

	// Replaying the same windows overwrites in place
	if _, err := p.SyncSales(t.Context(), models.SourceGasgoo, 0); err != nil {
		t.Fatal(err)
	}
	if n := countRows(t, db, &models.SalesRecord{}); n != 3 {
		t.Errorf("sales rows after replay = %d, want 3", n)
	}
	if n := countRows(t, db, &models.SyncRun{}); n != 2 {
		t.Errorf("sync runs = %d, want 2", n)
	}
	if len(notifier.reports) != 2 || notifier.reports[0].ID == notifier.reports[1].ID {
		t.Errorf("notifier got %d reports", len(notifier.reports))
	}
}

func TestSyncSalesLaterRecordOverwrites(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	src := &fakeSource{
		tag: models.SourceGasgoo,
		windows: map[string][]SalesItem{
			"202502": {
				item("小鹏汽车", "", "202502", 1000),
				item("小鹏汽车", "", "202502", 1500),
			},
		},
	}
	p := newTestPipeline(t, db).WithSources(src)

	readVolume := func() int64 {
		t.Helper()
		var rec models.SalesRecord
		if err := db.DB().Where("company_id = ? AND source = ?", 3, models.SourceGasgoo).First(&rec).Error; err != nil {
			t.Fatal(err)
		}
		return rec.Volume
	}

	report, err := p.SyncSales(t.Context(), models.SourceGasgoo, 0)
	if err != nil {
		t.Fatal(err)
	}
	if report.Matched != 2 || report.Written != 1 {
		t.Errorf("unexpected counts %+v", report)
	}
	if got := readVolume(); got != 1500 {
		t.Errorf("stored volume = %d, want 1500", got)
	}

	// A later run with a smaller figure replaces the stored one
	src.windows["202502"] = []SalesItem{item("小鹏汽车", "", "202502", 900)}
	if _, err := p.SyncSales(t.Context(), models.SourceGasgoo, 0); err != nil {
		t.Fatal(err)
	}
	if got := readVolume(); got != 900 {
		t.Errorf("stored volume after resync = %d, want 900", got)
	}
	if n := countRows(t, db, &models.SalesRecord{}); n != 1 {
		t.Errorf("sales rows = %d, want 1", n)
	}
}

func TestSyncSalesProgressLines(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)

	db := dbtest.OpenSeeded(t)
	src := &fakeSource{
		tag:     models.SourceGasgoo,
		windows: map[string][]SalesItem{"202502": {item("理想汽车", "", "202502", 500)}},
	}
	p := newTestPipeline(t, db).WithSources(src)
	if _, err := p.SyncSales(t.Context(), models.SourceGasgoo, 0); err != nil {
		t.Fatal(err)
	}

	var started, finished bool
	for _, e := range logs.FilterLevelExact(zapcore.InfoLevel).All() {
		if len(e.Context) != 0 {
			t.Errorf("progress line %q carries fields %v", e.Message, e.Context)
		}
		started = started || strings.HasPrefix(e.Message, "🔄 Sales sync started: GASGOO")
		finished = finished || strings.HasPrefix(e.Message, "✅ GASGOO sync")
	}
	if !started || !finished {
		t.Errorf("missing progress lines in %d entries", logs.Len())
	}
}

func TestSyncSalesModelLevel(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	src := &fakeSource{
		tag: models.SourceDCD,
		windows: map[string][]SalesItem{
			"202502": {
				item("比亚迪", "秦PLUS", "202502", 45000),
				item("比亚迪", "汉", "202502", 20000),
			},
		},
		errs: map[string]error{
			"202412": ErrNoData,
			"202501": ErrNoData,
		},
	}
	p := newTestPipeline(t, db).WithSources(src)

	for i := 0; i < 2; i++ {
		report, err := p.SyncSales(t.Context(), models.SourceDCD, 0)
		if err != nil {
			t.Fatal(err)
		}
		if report.Written != 2 {
			t.Errorf("run %d wrote %d", i, report.Written)
		}
	}

	if n := countRows(t, db, &models.CarModel{}); n != 2 {
		t.Errorf("car models = %d, want 2", n)
	}
	if n := countRows(t, db, &models.SalesRecord{}); n != 2 {
		t.Errorf("sales rows = %d, want 2", n)
	}

	var rec models.SalesRecord
	if err := db.DB().Preload("Model").Where("volume = ?", 45000).First(&rec).Error; err != nil {
		t.Fatal(err)
	}
	if rec.ModelID == nil || rec.Model == nil || rec.Model.Name != "秦PLUS" || rec.Model.MetadataSource != models.MetadataPending {
		t.Errorf("model-level record not linked: %+v", rec)
	}
}

func TestSyncSalesAllWindowsFailed(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	boom := errors.New("connection reset")
	src := &fakeSource{tag: models.SourceCPCA, errs: map[string]error{"202412": boom, "202501": boom, "202502": boom}}
	p := newTestPipeline(t, db).WithSources(src)

	report, err := p.SyncSales(t.Context(), models.SourceCPCA, 0)
	if err != nil {
		t.Fatalf("window failures must not abort the run: %v", err)
	}
	if report.Status != StatusFailed || len(report.Windows) != 3 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestSyncSalesErrors(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	src := &fakeSource{tag: models.SourceGasgoo}
	p := newTestPipeline(t, db).WithSources(src)

	if _, err := p.SyncSales(t.Context(), models.SourceCPCA, 0); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}

	p.mu.Lock()
	_, err := p.SyncSales(t.Context(), models.SourceGasgoo, 0)
	p.mu.Unlock()
	if !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := p.SyncSales(ctx, models.SourceGasgoo, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.SyncSales(t.Context(), models.SourceGasgoo, 0); !errors.Is(err, database.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(src.calls) != 0 {
		t.Errorf("no window should be fetched, got %v", src.calls)
	}
}

func TestSyncStocks(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	p := newTestPipeline(t, db).WithStocks(&fakeStocks{fail: map[string]bool{"9866.HK": true}})

	report, err := p.SyncStocks(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if report.Written != 10 || report.Status != StatusPartial {
		t.Errorf("unexpected report %+v", report)
	}
	var nio *CompanyResult
	for i := range report.Companies {
		if report.Companies[i].Company == "蔚来 (NIO)" {
			nio = &report.Companies[i]
		}
	}
	if nio == nil || nio.Failed != 1 || nio.Error == "" {
		t.Errorf("NIO failure not recorded: %+v", report.Companies)
	}

	if _, err := p.SyncStocks(t.Context()); err != nil {
		t.Fatal(err)
	}
	if n := countRows(t, db, &models.StockPrice{}); n != 10 {
		t.Errorf("stock rows = %d, want 10", n)
	}
}

func TestEnrichAndSyncAll(t *testing.T) {
	db := dbtest.OpenSeeded(t)
	r, err := rules.Default()
	if err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{
		tag:     models.SourceDCD,
		windows: map[string][]SalesItem{"202502": {item("理想", "理想L7", "202502", 12000)}},
		errs:    map[string]error{"202412": ErrNoData, "202501": ErrNoData},
	}
	svc := enrichment.NewService(db, r, nil, time.UTC)
	p := newTestPipeline(t, db).WithSources(src).WithEnricher(svc)

	reports, err := p.SyncAll(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 || reports[0].Kind != KindSales || reports[1].Kind != KindEnrich {
		t.Fatalf("unexpected reports %+v", reports)
	}
	if reports[1].Status != StatusSuccess || reports[1].Total != 1 {
		t.Errorf("enrich report %+v", reports[1])
	}

	var m models.CarModel
	if err := db.DB().First(&m).Error; err != nil {
		t.Fatal(err)
	}
	if m.EnergyType != models.EnergyEREV || m.MetadataSource != models.MetadataTable {
		t.Errorf("model not enriched: %+v", m)
	}
}

func TestReportSettle(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		report Report
		want   string
	}{
		{"clean", Report{Written: 3}, StatusSuccess},
		{"nothing to do", Report{}, StatusSuccess},
		{"some failed", Report{Written: 3, Windows: []WindowFailure{{Period: "202401"}}}, StatusPartial},
		{"all failed", Report{Companies: []CompanyResult{{Failed: 2}}}, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.report
			r.settle(at)
			if r.Status != tt.want {
				t.Errorf("status = %s, want %s", r.Status, tt.want)
			}
		})
	}

	r := Report{Total: 8, Matched: 6}
	if r.Coverage() != 75 {
		t.Errorf("coverage = %v", r.Coverage())
	}
}
