package aggregator

import (
	"time"

	models "evsales-dashboard/database/models_pkg"
)

// RankingEntry is one row of a monthly sales ranking.
type RankingEntry struct {
	Rank    int    `json:"rank"`
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Market  string `json:"market,omitempty"`
	LogoURL string `json:"logo_url,omitempty"`
	Volume  int64  `json:"volume"`
}

// Ranking maps volume-ordered records to ranking entries. modelLevel switches the
// row identity from company to model.
func Ranking(records []models.SalesRecord, modelLevel bool) []RankingEntry {
	out := make([]RankingEntry, 0, len(records))
	for i, r := range records {
		e := RankingEntry{Rank: i + 1, ID: r.CompanyID, Volume: r.Volume}
		if r.Company != nil {
			e.Name = r.Company.Name
			e.Market = r.Company.Market
			e.LogoURL = r.Company.LogoURL
		}
		if modelLevel {
			e.Company = e.Name
			e.Market = ""
			e.Name = "未知车型"
			if r.ModelID != nil {
				e.ID = *r.ModelID
			}
			if r.Model != nil {
				e.Name = r.Model.Name
			}
		}
		out = append(out, e)
	}
	return out
}

// CompanyYear is one company's monthly volumes for a calendar year; nil months have no record.
type CompanyYear struct {
	ID   uint     `json:"id"`
	Name string   `json:"name"`
	Data []*int64 `json:"data"`
}

// YearMatrix lays out company-level volumes of year side by side, one row per company
// in the given order.
func YearMatrix(year int, companies []models.Company, records []models.SalesRecord) []CompanyYear {
	rows := make([]CompanyYear, 0, len(companies))
	index := make(map[uint]int, len(companies))
	for i, c := range companies {
		index[c.ID] = i
		rows = append(rows, CompanyYear{ID: c.ID, Name: c.Name, Data: make([]*int64, 12)})
	}

	for _, r := range records {
		if r.ModelID != nil || r.Date.Year() != year {
			continue
		}
		i, ok := index[r.CompanyID]
		if !ok {
			continue
		}
		v := r.Volume
		rows[i].Data[r.Date.Month()-time.January] = &v
	}
	return rows
}
