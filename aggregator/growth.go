package aggregator

import (
	"time"

	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/helpers"
)

// GrowthRow is one company's YoY change per calendar month; nil cells have no comparison.
type GrowthRow struct {
	ID   uint       `json:"id"`
	Name string     `json:"name"`
	Data []*float64 `json:"data"`
}

// PolicyNote annotates the growth heatmap.
type PolicyNote struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	Month    int    `json:"month"`
	Year     int    `json:"year"`
	Category string `json:"category"`
	Impact   string `json:"impact"`
}

// GrowthMatrix is the YoY heatmap for one target year.
type GrowthMatrix struct {
	Year     int          `json:"year"`
	Growth   []GrowthRow  `json:"growth"`
	Policies []PolicyNote `json:"policies"`
}

// PolicyWindow returns the [prior-year Jan 1, target-year Dec 31] window used for annotations.
func PolicyWindow(year int) (time.Time, time.Time) {
	return time.Date(year-1, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
}

type monthKey struct {
	company uint
	year    int
	month   time.Month
}

// YoY returns the percent change from prior to current, rounded to one decimal,
// or nil when prior is not strictly positive.
func YoY(current, prior int64) *float64 {
	if prior <= 0 {
		return nil
	}
	v := helpers.Round1(float64(current-prior) / float64(prior) * 100)
	return &v
}

// Growth computes the YoY matrix for year. records are company-level monthly records
// covering at least year-1 and year; companies fixes row order. Companies without a
// single computable cell are left out. policies outside PolicyWindow are dropped.
func Growth(year int, companies []models.Company, records []models.SalesRecord, policies []models.Policy) GrowthMatrix {
	volumes := make(map[monthKey]int64, len(records))
	for _, r := range records {
		if r.ModelID != nil {
			continue
		}
		volumes[monthKey{r.CompanyID, r.Date.Year(), r.Date.Month()}] = r.Volume
	}

	matrix := GrowthMatrix{Year: year, Growth: []GrowthRow{}, Policies: []PolicyNote{}}
	for _, c := range companies {
		row := GrowthRow{ID: c.ID, Name: c.Name, Data: make([]*float64, 12)}
		hasCell := false
		for m := time.January; m <= time.December; m++ {
			cur, okCur := volumes[monthKey{c.ID, year, m}]
			prev, okPrev := volumes[monthKey{c.ID, year - 1, m}]
			if !okCur || !okPrev {
				continue
			}
			if cell := YoY(cur, prev); cell != nil {
				row.Data[m-1] = cell
				hasCell = true
			}
		}
		if hasCell {
			matrix.Growth = append(matrix.Growth, row)
		}
	}

	from, to := PolicyWindow(year)
	for _, p := range policies {
		if p.Date.Before(from) || p.Date.After(to) {
			continue
		}
		matrix.Policies = append(matrix.Policies, PolicyNote{
			Title:    p.Title,
			Date:     p.Date.Format("2006-01-02"),
			Month:    int(p.Date.Month()),
			Year:     p.Date.Year(),
			Category: p.Category,
			Impact:   p.ImpactLevel,
		})
	}
	return matrix
}
