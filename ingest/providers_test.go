package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"evsales-dashboard/database/types"
)

func testFetcher() *Fetcher {
	f := NewFetcher("test", "", 5*time.Second)
	f.Retries = 0
	return f
}

const gasgooPage = `<html><body>
<table class="nav"><tr><td>menu</td></tr></table>
<table>
  <tr><th>排名</th><th>厂商</th><th>2025年1月</th><th>2024年12月</th><th>环比</th></tr>
  <tr><td>1</td><td>比亚迪汽车</td><td>300,538</td><td>514,809</td><td>-41.6%</td></tr>
  <tr><td>2</td><td> 吉利汽车 </td><td>266,737</td><td>239,000</td><td>11.6%</td></tr>
  <tr><td>3</td><td>某新势力</td><td>-</td><td>1,200</td><td>--</td></tr>
</table></body></html>`

func TestParseGasgoo(t *testing.T) {
	table, err := parseHTMLTable([]byte(gasgooPage))
	if err != nil {
		t.Fatal(err)
	}

	items, err := parseGasgooTable(table, "202412")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %+v", items)
	}
	if items[0].EntityName != "比亚迪汽车" || items[0].Volume != 514809 || items[0].Period != "202412" {
		t.Errorf("unexpected first item %+v", items[0])
	}
	if items[1].EntityName != "吉利汽车" {
		t.Errorf("name not trimmed: %q", items[1].EntityName)
	}

	jan, err := parseGasgooTable(table, "202501")
	if err != nil {
		t.Fatal(err)
	}
	if len(jan) != 2 {
		t.Errorf("blank cells must be skipped, got %+v", jan)
	}

	if _, err := parseGasgooTable(table, "202406"); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData for an unpublished month, got %v", err)
	}
}

func TestParseGasgooUndatedLayout(t *testing.T) {
	table, err := parseHTMLTable([]byte(`<table>
<tr><td>车企</td><td>销量</td></tr>
<tr><td>理想汽车</td><td>29,927</td></tr></table>`))
	if err != nil {
		t.Fatal(err)
	}
	items, err := parseGasgooTable(table, "202501")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Volume != 29927 {
		t.Errorf("unexpected items %+v", items)
	}
}

func TestParseHTMLTableWithoutData(t *testing.T) {
	if _, err := parseHTMLTable([]byte(`<p>维护中</p>`)); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestHeaderMonth(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"2024年12月", "202412", true},
		{"2025-1", "202501", true},
		{"202403", "202403", true},
		{"2024年1月到12月", "", false},
		{"累计2024", "", false},
		{"同比%", "", false},
		{"厂商", "", false},
	}
	for _, tt := range tests {
		got, ok := headerMonth(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("headerMonth(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

const cpcaPage = `<table>
<tr><th>厂商</th><th>2024年11月</th><th>2024年12月</th><th>2024年累计</th></tr>
<tr><td>比亚迪汽车</td><td>50.68</td><td>51.48</td><td>425.04</td></tr>
<tr><td>特斯拉中国</td><td>7.3</td><td>9.35</td><td>92.6</td></tr>
</table>`

func TestCPCASourceFetchesOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, cpcaPage)
	}))
	defer srv.Close()

	src := NewCPCASource(testFetcher(), srv.URL)
	ctx := context.Background()

	dec, err := src.FetchWindow(ctx, "202412")
	if err != nil {
		t.Fatal(err)
	}
	if len(dec) != 2 || dec[0].Volume != 514800 || dec[1].Volume != 93500 {
		t.Errorf("unexpected december items %+v", dec)
	}

	nov, err := src.FetchWindow(ctx, "202411")
	if err != nil {
		t.Fatal(err)
	}
	if nov[0].Volume != 506800 {
		t.Errorf("unexpected november volume %d", nov[0].Volume)
	}

	if _, err := src.FetchWindow(ctx, "202410"); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("table should be fetched once, got %d requests", n)
	}
}

func TestDongchediSource(t *testing.T) {
	var gotMonth, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMonth = r.URL.Query().Get("month")
		gotReferer = r.Header.Get("Referer")
		fmt.Fprint(w, `{"status":0,"message":"success","data":{"list":[
			{"series_name":"秦PLUS","sub_brand_name":"比亚迪","brand_name":"比亚迪","count":45123},
			{"series_name":"Model Y","sub_brand_name":"","brand_name":"特斯拉","count":"38001"},
			{"series_name":"","sub_brand_name":"蔚来","count":100},
			{"series_name":"问界M7","sub_brand_name":"问界","count":0}
		]}}`)
	}))
	defer srv.Close()

	src := NewDongchediSource(testFetcher(), srv.URL, 50)
	items, err := src.FetchWindow(context.Background(), "202501")
	if err != nil {
		t.Fatal(err)
	}
	if gotMonth != "202501" || gotReferer == "" {
		t.Errorf("request month=%q referer=%q", gotMonth, gotReferer)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %+v", items)
	}
	if items[0].ModelName != "秦PLUS" || items[0].Volume != 45123 {
		t.Errorf("unexpected item %+v", items[0])
	}
	if items[1].EntityName != "特斯拉" || items[1].Volume != 38001 {
		t.Errorf("brand fallback or string count failed: %+v", items[1])
	}
}

func TestDongchediEmpty(t *testing.T) {
	if _, err := parseDongchedi([]byte(`{"status":0,"data":{"list":[]}}`), "202501"); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
	if _, err := parseDongchedi([]byte(`<html>`), "202501"); err == nil {
		t.Error("expected decode error")
	}
}

func TestFetcherStatusError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := testFetcher()
	f.Retries = 2
	_, err := f.Get(context.Background(), srv.URL, nil)

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d requests", hits.Load())
	}
}

func TestYahooDailyCloses(t *testing.T) {
	d1 := time.Date(2025, 1, 2, 1, 30, 0, 0, time.UTC).Unix()
	d2 := time.Date(2025, 1, 3, 1, 30, 0, 0, time.UTC).Unix()
	d3 := time.Date(2025, 1, 6, 1, 30, 0, 0, time.UTC).Unix()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprintf(w, `{"chart":{"result":[{"meta":{"exchangeTimezoneName":"UTC"},
			"timestamp":[%d,%d,%d],
			"indicators":{"quote":[{"close":[250.4,null,262.0]}]}}],"error":null}}`, d1, d2, d3)
	}))
	defer srv.Close()

	c := NewYahooClient(testFetcher(), srv.URL+"/v8/finance/chart/", srv.URL)
	quotes, err := c.DailyCloses(context.Background(), "1211.HK", time.Now().AddDate(0, -1, 0), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/v8/finance/chart/1211.HK" {
		t.Errorf("path = %q", gotPath)
	}
	if len(quotes) != 2 {
		t.Fatalf("null closes must be skipped, got %+v", quotes)
	}
	if !quotes[1].Date.Equal(time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)) || quotes[1].Close != 262.0 {
		t.Errorf("unexpected quote %+v", quotes[1])
	}
}

func TestYahooChartError(t *testing.T) {
	_, err := parseChart([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`), "X")
	if err == nil {
		t.Error("expected provider error")
	}
}

func TestParseQuoteSummary(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f, err := parseQuoteSummary([]byte(`{"quoteSummary":{"result":[{
		"price":{"currency":"HKD","marketCap":{"raw":850000000000,"fmt":"850B"}},
		"financialData":{"totalRevenue":{"raw":777000000000},"grossProfits":{}}}],"error":null}}`), "1211.HK", now)
	if err != nil {
		t.Fatal(err)
	}
	if f == nil || f.Currency != "HKD" || *f.MarketCap != 850000000000 || *f.Revenue != 777000000000 {
		t.Fatalf("unexpected fundamentals %+v", f)
	}
	if f.GrossProfit != nil {
		t.Errorf("missing gross profit must stay nil, got %v", *f.GrossProfit)
	}

	none, err := parseQuoteSummary([]byte(`{"quoteSummary":{"result":[],"error":{"description":"Quote not found"}}}`), "NOPE", now)
	if err != nil || none != nil {
		t.Errorf("unknown ticker should be nil, nil; got %+v, %v", none, err)
	}
}

type countingFundamentals struct{ calls int }

func (c *countingFundamentals) Fundamentals(ctx context.Context, symbol string) (*types.Fundamentals, error) {
	c.calls++
	marketCap := 1e9
	return &types.Fundamentals{Symbol: symbol, MarketCap: &marketCap}, nil
}

func TestCachedFundamentalsWithoutRedis(t *testing.T) {
	next := &countingFundamentals{}
	c := NewCachedFundamentals(next, nil, time.Hour)

	for i := 0; i < 2; i++ {
		f, err := c.Fundamentals(context.Background(), "9868.HK")
		if err != nil || f == nil || f.Symbol != "9868.HK" {
			t.Fatalf("unexpected result %+v, %v", f, err)
		}
	}
	if next.calls != 2 {
		t.Errorf("without redis every call passes through, got %d calls", next.calls)
	}
}
