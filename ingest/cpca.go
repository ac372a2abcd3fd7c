package ingest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	models "evsales-dashboard/database/models_pkg"
)

// cpcaUnit converts the table's 万辆 figures into vehicles.
const cpcaUnit = 10000

// CPCASource reads the manufacturer wholesale table, which lists every published month
// as a column. The table is fetched once and reused across windows for tableTTL.
type CPCASource struct {
	fetcher  *Fetcher
	url      string
	tableTTL time.Duration
	now      func() time.Time

	mu    sync.Mutex
	table memo[map[string][]SalesItem]
}

// NewCPCASource creates the CPCA provider.
func NewCPCASource(fetcher *Fetcher, url string) *CPCASource {
	return &CPCASource{fetcher: fetcher, url: url, tableTTL: 10 * time.Minute, now: time.Now}
}

// Tag implements SalesDataSource.
func (s *CPCASource) Tag() models.Source { return models.SourceCPCA }

// FetchWindow implements SalesDataSource.
func (s *CPCASource) FetchWindow(ctx context.Context, period string) ([]SalesItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byPeriod, ok := s.table.get(s.tableTTL, s.now())
	if !ok {
		body, err := s.fetcher.Get(ctx, s.url, nil)
		if err != nil {
			return nil, err
		}
		table, err := parseHTMLTable(body)
		if err != nil {
			return nil, fmt.Errorf("cpca: %w", err)
		}
		byPeriod = parseCPCATable(table)
		s.table.set(byPeriod, s.now())
	}

	items, ok := byPeriod[period]
	if !ok {
		return nil, fmt.Errorf("cpca %s: %w", period, ErrNoData)
	}
	return items, nil
}

// parseCPCATable groups every dated column of the wide table by period.
func parseCPCATable(t *htmlTable) map[string][]SalesItem {
	nameCol := t.column("厂商", "企业")
	if nameCol < 0 {
		nameCol = 0
	}

	out := make(map[string][]SalesItem)
	for i, h := range t.headers {
		if i == nameCol {
			continue
		}
		period, ok := headerMonth(h)
		if !ok {
			continue
		}
		items := []SalesItem{}
		for _, row := range t.rows {
			name := t.cell(row, nameCol)
			v, ok := parseNumber(t.cell(row, i))
			if name == "" || !ok {
				continue
			}
			volume := int64(math.Round(v * cpcaUnit))
			if volume <= 0 {
				continue
			}
			items = append(items, SalesItem{EntityName: name, Period: period, Volume: volume})
		}
		out[period] = items
	}
	return out
}
