package aggregator

import (
	"sort"
	"time"

	"evsales-dashboard/database"
	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/helpers"
)

// Share is one company's slice of a month's volume, in percent.
type Share struct {
	ID     uint    `json:"id"`
	Name   string  `json:"name"`
	Volume int64   `json:"volume"`
	Share  float64 `json:"share"`
}

// ConcentrationMonth holds the concentration indices of one reporting month.
type ConcentrationMonth struct {
	Date        string  `json:"date"`
	HHI         float64 `json:"hhi"`
	CR3         float64 `json:"cr3"`
	CR5         float64 `json:"cr5"`
	TopPlayers  []Share `json:"top_players"`
	TotalVolume int64   `json:"total_volume"`
}

// MonthShares splits a month's company-level records into percent shares, largest first.
// Zero-volume records are excluded; nil means the month has no volume at all.
func MonthShares(records []models.SalesRecord) ([]Share, int64) {
	var total int64
	shares := make([]Share, 0, len(records))
	for _, r := range records {
		if r.Volume <= 0 {
			continue
		}
		total += r.Volume
		name := ""
		if r.Company != nil {
			name = r.Company.Name
		}
		shares = append(shares, Share{ID: r.CompanyID, Name: name, Volume: r.Volume})
	}
	if total == 0 {
		return nil, 0
	}

	for i := range shares {
		shares[i].Share = float64(shares[i].Volume) / float64(total) * 100
	}
	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].Volume != shares[j].Volume {
			return shares[i].Volume > shares[j].Volume
		}
		return shares[i].ID < shares[j].ID
	})
	return shares, total
}

// HHI is the sum of squared percentage shares.
func HHI(shares []Share) float64 {
	var sum float64
	for _, s := range shares {
		sum += s.Share * s.Share
	}
	return sum
}

// CR sums the top n shares; shares must be sorted largest first.
func CR(shares []Share, n int) float64 {
	var sum float64
	for i := 0; i < n && i < len(shares); i++ {
		sum += shares[i].Share
	}
	return sum
}

// Concentration computes HHI, CR3 and CR5 for the most recent months distinct reporting
// months found in records, oldest first. Months whose total volume is zero are omitted.
func Concentration(records []models.SalesRecord, months int) []ConcentrationMonth {
	byDate := make(map[time.Time][]models.SalesRecord)
	var dates []time.Time
	for _, r := range records {
		if r.ModelID != nil {
			continue
		}
		d := r.Date.UTC()
		if _, ok := byDate[d]; !ok {
			dates = append(dates, d)
		}
		byDate[d] = append(byDate[d], r)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	if months > 0 && len(dates) > months {
		dates = dates[len(dates)-months:]
	}

	trend := make([]ConcentrationMonth, 0, len(dates))
	for _, d := range dates {
		shares, total := MonthShares(byDate[d])
		if total == 0 {
			continue
		}

		top := shares
		if len(top) > database.CR5Depth {
			top = top[:database.CR5Depth]
		}
		rounded := make([]Share, len(top))
		for i, s := range top {
			s.Share = helpers.Round2(s.Share)
			rounded[i] = s
		}

		trend = append(trend, ConcentrationMonth{
			Date:        helpers.MonthLabel(d),
			HHI:         HHI(shares),
			CR3:         CR(shares, database.CR3Depth),
			CR5:         CR(shares, database.CR5Depth),
			TopPlayers:  rounded,
			TotalVolume: total,
		})
	}
	return trend
}
