package types

import "time"

// ModelPeak is a model's best single-month volume for a source.
type ModelPeak struct {
	ModelID uint  `json:"model_id"`
	Peak    int64 `json:"peak"`
}

// CompanyVolume is a summed volume per company over a window.
type CompanyVolume struct {
	CompanyID uint  `json:"company_id"`
	Volume    int64 `json:"volume"`
}

// Fundamentals are the externally supplied financial-statement fields used by valuation.
// A nil field means the provider did not report it.
type Fundamentals struct {
	Symbol      string    `json:"symbol"`
	Currency    string    `json:"currency"`
	MarketCap   *float64  `json:"market_cap"`
	Revenue     *float64  `json:"revenue"`
	GrossProfit *float64  `json:"gross_profit"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// StockQuote is one daily close from the stock-price provider.
type StockQuote struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}
