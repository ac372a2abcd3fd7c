package aggregator

import (
	"sort"
	"time"

	"evsales-dashboard/helpers"
)

// Observation is one dated value of a raw series.
type Observation struct {
	Date  time.Time
	Value float64
}

// SeriesPoint is a value expressed as percent change from the series baseline.
type SeriesPoint struct {
	Timestamp int64   `json:"x"`
	Date      string  `json:"date"`
	Change    float64 `json:"y"`
	Raw       float64 `json:"raw_value"`
}

// AlignedPoint pairs the two series on a shared monthly axis.
// For stock, the month's last close is used.
type AlignedPoint struct {
	Month       string   `json:"month"`
	StockChange *float64 `json:"stock_change"`
	SalesChange *float64 `json:"sales_change"`
}

// Comparison is the normalized stock vs. sales view of one company.
type Comparison struct {
	Empty         bool           `json:"empty"`
	StockSeries   []SeriesPoint  `json:"stock_series"`
	SalesSeries   []SeriesPoint  `json:"sales_series"`
	Aligned       []AlignedPoint `json:"aligned"`
	BaselinePrice *float64       `json:"baseline_price"`
	BaselineSales *float64       `json:"baseline_sales"`
}

// baseline returns the first value of a series, with zero mapped to 1.
func baseline(series []Observation) float64 {
	b := series[0].Value
	if b == 0 {
		return 1
	}
	return b
}

func normalize(series []Observation) ([]SeriesPoint, *float64) {
	points := make([]SeriesPoint, 0, len(series))
	if len(series) == 0 {
		return points, nil
	}
	base := baseline(series)
	for _, o := range series {
		points = append(points, SeriesPoint{
			Timestamp: o.Date.UnixMilli(),
			Date:      o.Date.Format("2006-01-02"),
			Change:    helpers.Round2((o.Value - base) / base * 100),
			Raw:       o.Value,
		})
	}
	return points, &base
}

// Compare converts both series to percent change from their first observation and
// aligns them by month. Inputs must be sorted oldest first.
// When either side is empty the result is flagged Empty; the other side is still returned.
func Compare(stock, sales []Observation) Comparison {
	result := Comparison{Empty: len(stock) == 0 || len(sales) == 0}
	result.StockSeries, result.BaselinePrice = normalize(stock)
	result.SalesSeries, result.BaselineSales = normalize(sales)

	byMonth := make(map[string]*AlignedPoint)
	at := func(t time.Time) *AlignedPoint {
		label := helpers.MonthLabel(t)
		p, ok := byMonth[label]
		if !ok {
			p = &AlignedPoint{Month: label}
			byMonth[label] = p
		}
		return p
	}

	for _, p := range result.StockSeries {
		v := p.Change
		at(time.UnixMilli(p.Timestamp).UTC()).StockChange = &v // later closes in the month overwrite earlier ones
	}
	for _, p := range result.SalesSeries {
		v := p.Change
		at(time.UnixMilli(p.Timestamp).UTC()).SalesChange = &v
	}

	result.Aligned = make([]AlignedPoint, 0, len(byMonth))
	for _, p := range byMonth {
		result.Aligned = append(result.Aligned, *p)
	}
	sort.Slice(result.Aligned, func(i, j int) bool {
		return result.Aligned[i].Month < result.Aligned[j].Month
	})
	return result
}
