package ingest

import (
	"context"
	"fmt"
	"net/url"

	models "evsales-dashboard/database/models_pkg"
)

// GasgooSource reads the monthly manufacturer ranking page, one request per period.
// The page is a table with a manufacturer column and a column per reported month.
type GasgooSource struct {
	fetcher *Fetcher
	baseURL string
}

// NewGasgooSource creates the Gasgoo provider.
func NewGasgooSource(fetcher *Fetcher, baseURL string) *GasgooSource {
	return &GasgooSource{fetcher: fetcher, baseURL: baseURL}
}

// Tag implements SalesDataSource.
func (s *GasgooSource) Tag() models.Source { return models.SourceGasgoo }

// FetchWindow implements SalesDataSource.
func (s *GasgooSource) FetchWindow(ctx context.Context, period string) ([]SalesItem, error) {
	body, err := s.fetcher.Get(ctx, s.baseURL, url.Values{"date": {period}})
	if err != nil {
		return nil, err
	}
	table, err := parseHTMLTable(body)
	if err != nil {
		return nil, fmt.Errorf("gasgoo %s: %w", period, err)
	}
	return parseGasgooTable(table, period)
}

func parseGasgooTable(t *htmlTable, period string) ([]SalesItem, error) {
	nameCol := t.column("厂商", "企业", "车企")
	if nameCol < 0 {
		nameCol = 0
	}

	valueCol := -1
	anyDated := false
	for i, h := range t.headers {
		p, ok := headerMonth(h)
		if !ok {
			continue
		}
		anyDated = true
		if p == period {
			valueCol = i
			break
		}
	}
	if valueCol < 0 {
		// Undated layouts carry the requested month in the second column
		if anyDated || len(t.headers) < 2 {
			return nil, fmt.Errorf("gasgoo %s: %w", period, ErrNoData)
		}
		valueCol = 1
	}

	items := make([]SalesItem, 0, len(t.rows))
	for _, row := range t.rows {
		name := t.cell(row, nameCol)
		v, ok := parseNumber(t.cell(row, valueCol))
		if name == "" || !ok || v <= 0 {
			continue
		}
		items = append(items, SalesItem{EntityName: name, Period: period, Volume: int64(v)})
	}
	return items, nil
}
