package enrichment

import (
	"hash/fnv"
	"math"
	"strings"
	"time"

	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/rules"
)

const fallbackGuidePrice = 100000

// spreadFraction maps a model name to a stable value in [0, 1).
func spreadFraction(name string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return float64(h.Sum32()%1000) / 1000
}

// SyntheticDiscount is the generated discount rate (a fraction) for a model at month
// offset t of the window: base + trend*t + a stable per-model spread + brand
// adjustments, clamped to [min, max].
func SyntheticDiscount(p rules.Pricing, modelName string, t int) float64 {
	d := p.BaseDiscount + p.MonthlyTrend*float64(t) + p.ModelSpread*spreadFraction(modelName)
	for _, adj := range p.BrandAdjustments {
		if adj.Keyword != "" && strings.Contains(modelName, adj.Keyword) {
			d += adj.Adjustment
		}
	}
	d = math.Max(p.MinDiscount, math.Min(p.MaxDiscount, d))
	return math.Round(d*10000) / 10000
}

// GuidePrice returns the list price used for synthetic records.
func GuidePrice(p rules.Pricing, c Classification) float64 {
	if c.Rule != nil && c.Rule.GuidePrice > 0 {
		return c.Rule.GuidePrice
	}
	if p.GuidePrice > 0 {
		return p.GuidePrice
	}
	return fallbackGuidePrice
}

// SyntheticRecord builds the SYNTHETIC price record of a model for one month.
func SyntheticRecord(p rules.Pricing, model models.CarModel, c Classification, month time.Time, t int) models.PriceRecord {
	rate := SyntheticDiscount(p, model.Name, t)
	guide := GuidePrice(p, c)
	return models.PriceRecord{
		ModelID:       model.ID,
		Date:          month,
		Source:        models.SourceSynthetic,
		GuidePrice:    guide,
		TerminalPrice: math.Round(guide * (1 - rate)),
		DiscountRate:  &rate,
	}
}
