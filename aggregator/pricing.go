package aggregator

import (
	"sort"
	"time"

	"evsales-dashboard/database"
	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/helpers"
)

// Discount intensity buckets
const (
	IntensityHigh   = "HIGH"
	IntensityMedium = "MEDIUM"
	IntensityLow    = "LOW"
)

// PricingMonth is the average discount of one reporting month.
// SampleCount counts real observations; zero means AvgDiscount was simulated.
type PricingMonth struct {
	Date        string  `json:"date"`
	AvgDiscount float64 `json:"avg_discount"`
	SampleCount int     `json:"sample_count"`
	Simulated   bool    `json:"simulated"`
	Intensity   string  `json:"intensity"`
}

// ModelDiscount is one model's discount in the latest month.
type ModelDiscount struct {
	Name      string  `json:"name"`
	Company   string  `json:"company,omitempty"`
	Discount  float64 `json:"discount"`
	Simulated bool    `json:"simulated"`
}

// PricingSummary headlines the trend. YoYChange is in percentage points and nil
// when the trend does not reach back twelve months.
type PricingSummary struct {
	CurrentAvgDiscount float64  `json:"current_avg_discount"`
	YoYChange          *float64 `json:"yoy_change"`
	Intensity          string   `json:"intensity"`
}

// PricingTrend is the discount trend with per-model ranking.
type PricingTrend struct {
	Trend          []PricingMonth  `json:"trend"`
	ModelDiscounts []ModelDiscount `json:"model_discounts"`
	Summary        PricingSummary  `json:"summary"`
}

// Intensity buckets an average discount given in percent.
func Intensity(avg float64) string {
	switch {
	case avg > database.DiscountIntensityHigh:
		return IntensityHigh
	case avg > database.DiscountIntensityMedium:
		return IntensityMedium
	default:
		return IntensityLow
	}
}

// SimulatedDiscount is the deterministic fallback for the index-th month of a trend, in percent.
func SimulatedDiscount(index int, month time.Time) float64 {
	v := database.SimulatedDiscountBase + float64(index)*database.SimulatedDiscountStep
	if month.Month() == time.December {
		v += database.SimulatedDiscountDecemberAdj
	}
	return v
}

// discountOf returns a record's discount as a fraction, derived from prices when not stored.
func discountOf(p models.PriceRecord) (float64, bool) {
	if p.DiscountRate != nil {
		return *p.DiscountRate, true
	}
	if p.GuidePrice > 0 {
		return (p.GuidePrice - p.TerminalPrice) / p.GuidePrice, true
	}
	return 0, false
}

type monthPrices struct {
	real      []models.PriceRecord
	synthetic []models.PriceRecord
}

func groupPrices(prices []models.PriceRecord) map[string]*monthPrices {
	byMonth := make(map[string]*monthPrices)
	for _, p := range prices {
		label := helpers.MonthLabel(p.Date)
		g, ok := byMonth[label]
		if !ok {
			g = &monthPrices{}
			byMonth[label] = g
		}
		if p.IsSynthetic() {
			g.synthetic = append(g.synthetic, p)
		} else {
			g.real = append(g.real, p)
		}
	}
	return byMonth
}

func mean(records []models.PriceRecord) (float64, int) {
	var sum float64
	n := 0
	for _, r := range records {
		if d, ok := discountOf(r); ok {
			sum += d
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// Pricing builds the discount trend over months (oldest first). Each month averages its
// real observations; without any it falls back to synthetic records and then to
// SimulatedDiscount, reporting SampleCount 0 in both cases.
func Pricing(months []time.Time, prices []models.PriceRecord) PricingTrend {
	byMonth := groupPrices(prices)
	trend := PricingTrend{Trend: make([]PricingMonth, 0, len(months)), ModelDiscounts: []ModelDiscount{}}

	for i, m := range months {
		label := helpers.MonthLabel(m)
		point := PricingMonth{Date: label}

		var avg float64
		n := 0
		if g := byMonth[label]; g != nil {
			avg, n = mean(g.real)
			if n == 0 {
				if synth, k := mean(g.synthetic); k > 0 {
					avg = synth * 100
					point.Simulated = true
				}
			} else {
				avg *= 100
			}
		}
		if n == 0 && !point.Simulated {
			avg = SimulatedDiscount(i, m)
			point.Simulated = true
		}

		point.AvgDiscount = helpers.Round1(avg)
		point.SampleCount = n
		point.Intensity = Intensity(avg)
		trend.Trend = append(trend.Trend, point)
	}

	if len(months) == 0 {
		trend.Summary.Intensity = IntensityLow
		return trend
	}

	latest := months[len(months)-1]
	trend.ModelDiscounts = modelDiscounts(byMonth[helpers.MonthLabel(latest)], database.ModelDiscountRankingLimit)

	current := trend.Trend[len(trend.Trend)-1]
	trend.Summary.CurrentAvgDiscount = current.AvgDiscount
	trend.Summary.Intensity = current.Intensity
	yearAgo := helpers.MonthLabel(latest.AddDate(-1, 0, 0))
	for _, p := range trend.Trend {
		if p.Date == yearAgo {
			v := helpers.Round1(current.AvgDiscount - p.AvgDiscount)
			trend.Summary.YoYChange = &v
			break
		}
	}
	return trend
}

// modelDiscounts ranks the month's models by discount. Real observations win over
// synthetic ones for the same model.
func modelDiscounts(g *monthPrices, limit int) []ModelDiscount {
	out := []ModelDiscount{}
	if g == nil {
		return out
	}

	seen := make(map[uint]bool)
	add := func(records []models.PriceRecord, simulated bool) {
		for _, p := range records {
			if seen[p.ModelID] {
				continue
			}
			d, ok := discountOf(p)
			if !ok {
				continue
			}
			seen[p.ModelID] = true
			md := ModelDiscount{Discount: helpers.Round1(d * 100), Simulated: simulated}
			if p.Model != nil {
				md.Name = p.Model.Name
				if p.Model.Company != nil {
					md.Company = p.Model.Company.Name
				}
			}
			out = append(out, md)
		}
	}
	add(g.real, false)
	add(g.synthetic, true)

	sort.SliceStable(out, func(i, j int) bool { return out[i].Discount > out[j].Discount })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
