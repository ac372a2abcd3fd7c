package aggregator

import (
	"sort"

	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/helpers"
)

// LifecyclePoint is a model's volume at a month offset from its first sale.
type LifecyclePoint struct {
	MonthIndex int    `json:"month_index"`
	Volume     int64  `json:"volume"`
	Date       string `json:"date"`
}

// LifecycleSeries is a model's sales curve re-indexed to its launch month.
type LifecycleSeries struct {
	ID         uint             `json:"id"`
	Name       string           `json:"name"`
	Company    string           `json:"company"`
	LaunchDate string           `json:"launch_date"`
	Series     []LifecyclePoint `json:"series"`
}

// Lifecycle re-indexes a model's monthly records so its first observed month is 0.
// It reports false when the model has no records.
func Lifecycle(model models.CarModel, records []models.SalesRecord) (LifecycleSeries, bool) {
	if len(records) == 0 {
		return LifecycleSeries{}, false
	}

	sorted := make([]models.SalesRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	first := sorted[0].Date
	out := LifecycleSeries{
		ID:         model.ID,
		Name:       model.Name,
		LaunchDate: helpers.MonthLabel(first),
		Series:     make([]LifecyclePoint, 0, len(sorted)),
	}
	if model.Company != nil {
		out.Company = model.Company.Name
	}

	for _, r := range sorted {
		out.Series = append(out.Series, LifecyclePoint{
			MonthIndex: helpers.MonthIndex(first, r.Date),
			Volume:     r.Volume,
			Date:       helpers.MonthLabel(r.Date),
		})
	}
	return out, true
}
