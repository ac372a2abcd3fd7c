package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	models "evsales-dashboard/database/models_pkg"
)

// DongchediSource reads the model-level monthly sales ranking.
type DongchediSource struct {
	fetcher *Fetcher
	url     string
	limit   int
}

// NewDongchediSource creates the Dongchedi provider. limit caps the models fetched per month.
func NewDongchediSource(fetcher *Fetcher, url string, limit int) *DongchediSource {
	if limit <= 0 {
		limit = 100
	}
	fetcher.Headers["Referer"] = "https://www.dongchedi.com/sales"
	fetcher.Headers["Accept"] = "application/json, text/plain, */*"
	return &DongchediSource{fetcher: fetcher, url: url, limit: limit}
}

// Tag implements SalesDataSource.
func (s *DongchediSource) Tag() models.Source { return models.SourceDCD }

// flexInt accepts counts encoded either as JSON numbers or strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("count %q: %w", b, err)
	}
	*f = flexInt(v)
	return nil
}

type dcdResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"message"`
	Data   struct {
		List []struct {
			SeriesName   string  `json:"series_name"`
			SubBrandName string  `json:"sub_brand_name"`
			BrandName    string  `json:"brand_name"`
			Count        flexInt `json:"count"`
		} `json:"list"`
	} `json:"data"`
}

// FetchWindow implements SalesDataSource.
func (s *DongchediSource) FetchWindow(ctx context.Context, period string) ([]SalesItem, error) {
	query := url.Values{
		"aid":            {"1839"},
		"app_name":       {"auto_web_pc"},
		"count":          {strconv.Itoa(s.limit)},
		"offset":         {"0"},
		"month":          {period},
		"rank_data_type": {"11"},
	}
	body, err := s.fetcher.Get(ctx, s.url, query)
	if err != nil {
		return nil, err
	}
	return parseDongchedi(body, period)
}

func parseDongchedi(body []byte, period string) ([]SalesItem, error) {
	var resp dcdResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("dongchedi %s: decode: %w", period, err)
	}
	if len(resp.Data.List) == 0 {
		return nil, fmt.Errorf("dongchedi %s: %w", period, ErrNoData)
	}

	items := make([]SalesItem, 0, len(resp.Data.List))
	for _, row := range resp.Data.List {
		maker := strings.TrimSpace(row.SubBrandName)
		if maker == "" {
			maker = strings.TrimSpace(row.BrandName)
		}
		model := strings.TrimSpace(row.SeriesName)
		if maker == "" || model == "" || row.Count <= 0 {
			continue
		}
		items = append(items, SalesItem{EntityName: maker, ModelName: model, Period: period, Volume: int64(row.Count)})
	}
	return items, nil
}
