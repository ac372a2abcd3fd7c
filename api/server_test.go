package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"evsales-dashboard/aggregator"
	"evsales-dashboard/database"
	"evsales-dashboard/database/dbtest"
	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/database/sales"
	"evsales-dashboard/ingest"
	"evsales-dashboard/rules"
)

type stubSource struct {
	started chan struct{}
	release chan struct{}
}

func (s *stubSource) Tag() models.Source { return models.SourceGasgoo }

func (s *stubSource) FetchWindow(ctx context.Context, period string) ([]ingest.SalesItem, error) {
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
		<-s.release
	}
	return []ingest.SalesItem{{EntityName: "比亚迪汽车", Period: period, Volume: 100}}, nil
}

func newTestServer(t *testing.T, src ingest.SalesDataSource) (*httptest.Server, *database.Database) {
	t.Helper()
	db := dbtest.OpenSeeded(t)
	r, err := rules.Default()
	if err != nil {
		t.Fatal(err)
	}
	pipeline := ingest.NewPipeline(db, r, ingest.Options{Months: 2, Location: time.UTC}).WithSources(src)
	srv := NewServer(db, aggregator.NewService(db, nil, nil), pipeline, nil, nil)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, db
}

func do(t *testing.T, method, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestRouteStatus(t *testing.T) {
	ts, _ := newTestServer(t, &stubSource{})

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"preflight", http.MethodOptions, "/api/companies", http.StatusOK},
		{"companies", http.MethodGet, "/api/companies", http.StatusOK},
		{"charts missing company", http.MethodGet, "/api/charts", http.StatusBadRequest},
		{"charts bad company", http.MethodGet, "/api/charts?companyId=abc", http.StatusBadRequest},
		{"charts unknown company", http.MethodGet, "/api/charts?companyId=999", http.StatusNotFound},
		{"charts bad period type", http.MethodGet, "/api/charts?companyId=1&periodType=DAY", http.StatusBadRequest},
		{"charts bad start", http.MethodGet, "/api/charts?companyId=1&start=2025/01/01", http.StatusBadRequest},
		{"charts", http.MethodGet, "/api/charts?companyId=1&periodType=week", http.StatusOK},
		{"comparison without ids", http.MethodGet, "/api/sales/comparison", http.StatusBadRequest},
		{"comparison bad ids", http.MethodGet, "/api/sales/comparison?ids=1,x", http.StatusBadRequest},
		{"comparison", http.MethodGet, "/api/sales/comparison?ids=1,2&year=2024", http.StatusOK},
		{"growth", http.MethodGet, "/api/sales/growth?year=2024", http.StatusOK},
		{"market", http.MethodGet, "/api/sales/market?source=cpca", http.StatusOK},
		{"unknown source", http.MethodGet, "/api/sales/market?source=nope", http.StatusBadRequest},
		{"lifecycle", http.MethodGet, "/api/sales/lifecycle", http.StatusOK},
		{"pricing", http.MethodGet, "/api/sales/pricing", http.StatusOK},
		{"valuation", http.MethodGet, "/api/sales/valuation", http.StatusOK},
		{"ranking missing date", http.MethodGet, "/api/sales/ranking", http.StatusBadRequest},
		{"ranking bad date", http.MethodGet, "/api/sales/ranking?date=2025-01", http.StatusBadRequest},
		{"ranking bad type", http.MethodGet, "/api/sales/ranking?date=202501&type=brand", http.StatusBadRequest},
		{"models missing date", http.MethodGet, "/api/sales/models?companyId=1", http.StatusBadRequest},
		{"models", http.MethodGet, "/api/sales/models?companyId=1&date=202501", http.StatusOK},
		{"sync runs", http.MethodGet, "/api/sync/runs", http.StatusOK},
		{"sync unregistered source", http.MethodPost, "/api/sync/sales?source=CPCA", http.StatusBadRequest},
		{"sync wrong method", http.MethodGet, "/api/sync/sales", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, ts.URL+tt.path)
			if resp.StatusCode != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
			}
			if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("CORS header = %q", got)
			}
		})
	}
}

func TestErrorBody(t *testing.T) {
	ts, _ := newTestServer(t, &stubSource{})

	resp := do(t, http.MethodGet, ts.URL+"/api/charts?companyId=999")
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] == "" {
		t.Errorf("error body = %v", body)
	}
}

func TestRanking(t *testing.T) {
	ts, db := newTestServer(t, &stubSource{})
	repo := sales.NewRepository(db.DB())
	jan := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	for id, volume := range map[uint]int64{1: 300000, 3: 30000} {
		key := sales.Key{CompanyID: id, Date: jan, PeriodType: models.PeriodMonth, Source: models.SourceGasgoo}
		if _, err := repo.UpsertSales(t.Context(), key, volume); err != nil {
			t.Fatal(err)
		}
	}

	resp := do(t, http.MethodGet, ts.URL+"/api/sales/ranking?date=202501")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var entries []aggregator.RankingEntry
	decode(t, resp, &entries)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != 1 || entries[0].Rank != 1 || entries[0].Volume != 300000 {
		t.Errorf("first entry = %+v", entries[0])
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/sales/ranking?date=202501&source=CPCA")
	decode(t, resp, &entries)
	if len(entries) != 0 {
		t.Errorf("CPCA ranking = %+v, want empty", entries)
	}
}

func TestSyncSalesRoute(t *testing.T) {
	ts, _ := newTestServer(t, &stubSource{})

	resp := do(t, http.MethodPost, ts.URL+"/api/sync/sales?months=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var report ingest.Report
	decode(t, resp, &report)
	if report.Status != ingest.StatusSuccess || report.Written != 2 || report.Matched != 2 {
		t.Errorf("report = %+v", report)
	}

	resp = do(t, http.MethodGet, ts.URL+"/api/sync/runs")
	var runs []models.SyncRun
	decode(t, resp, &runs)
	if len(runs) != 1 || runs[0].ID != report.ID {
		t.Errorf("runs = %+v, want the one run %s", runs, report.ID)
	}
}

func TestSyncConflict(t *testing.T) {
	src := &stubSource{started: make(chan struct{}, 1), release: make(chan struct{})}
	ts, _ := newTestServer(t, src)
	var once sync.Once
	unblock := func() { once.Do(func() { close(src.release) }) }
	t.Cleanup(unblock)

	first := make(chan int, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/sync/sales?months=1", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()

	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first sync never reached the source")
	}

	resp := do(t, http.MethodPost, ts.URL+"/api/sync/sales")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("concurrent sync = %d, want 409", resp.StatusCode)
	}

	unblock()
	if code := <-first; code != http.StatusOK {
		t.Errorf("first sync = %d, want 200", code)
	}
}
