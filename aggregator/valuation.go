package aggregator

import (
	"math"

	"github.com/shopspring/decimal"

	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/database/types"
)

// ValuationInput combines a listed company with its fundamentals and trailing volume.
type ValuationInput struct {
	Company      models.Company
	Fundamentals *types.Fundamentals // nil when the provider returned nothing
	AnnualSales  int64
}

// ValuationRow is one company of the valuation cross-section. Every ratio is nil
// when its denominator is zero or unknown.
type ValuationRow struct {
	ID                 uint     `json:"id"`
	Name               string   `json:"name"`
	Symbol             string   `json:"symbol"`
	Currency           string   `json:"currency,omitempty"`
	MarketCap          *float64 `json:"market_cap"`
	Revenue            *float64 `json:"revenue"`
	GrossProfit        *float64 `json:"gross_profit"`
	AnnualSales        int64    `json:"annual_sales"`
	PS                 *float64 `json:"ps"`
	MarketCapPerUnit   *float64 `json:"market_cap_per_unit"`
	RevenuePerUnit     *float64 `json:"revenue_per_unit"`
	GrossProfitPerUnit *float64 `json:"gross_profit_per_unit"`
	GrossMargin        *float64 `json:"gross_margin"`
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// Ratio divides num by den with decimal arithmetic, rounded to places.
// It returns nil instead of failing when either side is unknown, non-finite, or den is zero.
func Ratio(num, den *float64, places int32) *float64 {
	if !finite(num) || !finite(den) {
		return nil
	}
	d := decimal.NewFromFloat(*den)
	if d.IsZero() {
		return nil
	}
	v, _ := decimal.NewFromFloat(*num).DivRound(d, places+2).Round(places).Float64()
	return &v
}

// Valuation builds the cross-section. Companies without a ticker or without
// fundamentals are omitted rather than reported as failures.
func Valuation(inputs []ValuationInput) []ValuationRow {
	rows := make([]ValuationRow, 0, len(inputs))
	for _, in := range inputs {
		if in.Company.StockSymbol == nil || *in.Company.StockSymbol == "" || in.Fundamentals == nil {
			continue
		}
		f := in.Fundamentals

		var units *float64
		if in.AnnualSales > 0 {
			u := float64(in.AnnualSales)
			units = &u
		}

		row := ValuationRow{
			ID:                 in.Company.ID,
			Name:               in.Company.Name,
			Symbol:             *in.Company.StockSymbol,
			Currency:           f.Currency,
			MarketCap:          f.MarketCap,
			Revenue:            f.Revenue,
			GrossProfit:        f.GrossProfit,
			AnnualSales:        in.AnnualSales,
			PS:                 Ratio(f.MarketCap, f.Revenue, 2),
			MarketCapPerUnit:   Ratio(f.MarketCap, units, 2),
			RevenuePerUnit:     Ratio(f.Revenue, units, 2),
			GrossProfitPerUnit: Ratio(f.GrossProfit, units, 2),
		}
		if margin := Ratio(f.GrossProfit, f.Revenue, 4); margin != nil {
			pct := decimal.NewFromFloat(*margin).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
			row.GrossMargin = &pct
		}
		rows = append(rows, row)
	}
	return rows
}
