package models

import (
	"time"

	"gorm.io/datatypes"
)

// PeriodType is the granularity of a sales observation.
type PeriodType string

const (
	PeriodWeek  PeriodType = "WEEK"
	PeriodMonth PeriodType = "MONTH"
)

// Valid reports whether p is a known period type.
func (p PeriodType) Valid() bool {
	return p == PeriodWeek || p == PeriodMonth
}

// Source identifies the provider a record came from.
type Source string

const (
	SourceGasgoo Source = "GASGOO"
	SourceCPCA   Source = "CPCA"
	SourceDCD    Source = "DCD"

	// SourceSynthetic tags price records generated by the enrichment pass.
	SourceSynthetic Source = "SYNTHETIC"
)

// SalesSources lists the providers the sales pipeline can ingest from.
var SalesSources = []Source{SourceGasgoo, SourceCPCA, SourceDCD}

// ParseSalesSource validates a sales source tag (case-sensitive, upper case).
func ParseSalesSource(s string) (Source, bool) {
	for _, src := range SalesSources {
		if string(src) == s {
			return src, true
		}
	}
	return "", false
}

// Category is a car body category.
type Category string

const (
	CategorySedan     Category = "Sedan"
	CategorySUV       Category = "SUV"
	CategoryMPV       Category = "MPV"
	CategoryHatchback Category = "Hatchback"
	CategoryUnknown   Category = "Unknown"
)

// EnergyType is a powertrain classification.
type EnergyType string

const (
	EnergyBEV     EnergyType = "BEV"
	EnergyPHEV    EnergyType = "PHEV"
	EnergyEREV    EnergyType = "EREV"
	EnergyICE     EnergyType = "ICE"
	EnergyUnknown EnergyType = "Unknown"
)

// MetadataSource records how a model's category/energy type were determined,
// so consumers can tell table facts from guesses.
type MetadataSource string

const (
	MetadataPending   MetadataSource = "PENDING"   // placeholder set on first sighting
	MetadataTable     MetadataSource = "TABLE"     // matched the keyword table
	MetadataHeuristic MetadataSource = "HEURISTIC" // name markers or manufacturer rule
	MetadataDefault   MetadataSource = "DEFAULT"   // configured fallback, lowest confidence
)

// Company is a canonical automaker entity. Companies are seeded and never deleted.
//
// Key Fields:
//   - Name: display name, also the target of entity resolution
//   - StockSymbol: ticker, unique when present (nil for unlisted makers)
//   - Market: listing market tag (HK, A, US)
type Company struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	StockSymbol *string   `gorm:"size:20;uniqueIndex" json:"stock_symbol"`
	Market      string    `gorm:"size:10" json:"market"`
	LogoURL     string    `gorm:"size:255" json:"logo_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for Company
func (Company) TableName() string {
	return "companies"
}

// CarModel is a vehicle series owned by exactly one company.
// (CompanyID, Name) is unique: the same series name under two makers is two models.
type CarModel struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	CompanyID      uint           `gorm:"not null;uniqueIndex:idx_car_models_company_name,priority:1" json:"company_id"`
	Name           string         `gorm:"size:100;not null;uniqueIndex:idx_car_models_company_name,priority:2" json:"name"`
	Category       Category       `gorm:"size:20;not null;default:Unknown" json:"category"`
	EnergyType     EnergyType     `gorm:"size:10;not null;default:Unknown" json:"energy_type"`
	MetadataSource MetadataSource `gorm:"size:12;not null;default:PENDING" json:"metadata_source"`
	Company        *Company       `gorm:"foreignKey:CompanyID" json:"company,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName specifies the table name for CarModel
func (CarModel) TableName() string {
	return "car_models"
}

// SalesRecord is the observed sales volume of one reporting period.
//
// Key Fields:
//   - ModelID: nil for a company-level aggregate, set for a model-level breakdown
//   - ModelKey: ModelID or 0; stands in for ModelID inside the natural key because
//     unique indexes treat NULLs as distinct
//   - Date: first day of the reporting period (see sales.NormalizePeriod)
//   - Volume: overwritten on re-sync, never accumulated
//
// Natural key: (CompanyID, ModelKey, Date, PeriodType, Source).
type SalesRecord struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	CompanyID  uint       `gorm:"not null;uniqueIndex:idx_sales_natural_key,priority:1;index" json:"company_id"`
	ModelID    *uint      `gorm:"index" json:"model_id"`
	ModelKey   uint       `gorm:"not null;default:0;uniqueIndex:idx_sales_natural_key,priority:2" json:"-"`
	Date       time.Time  `gorm:"not null;uniqueIndex:idx_sales_natural_key,priority:3;index" json:"date"`
	PeriodType PeriodType `gorm:"size:5;not null;uniqueIndex:idx_sales_natural_key,priority:4" json:"period_type"`
	Source     Source     `gorm:"size:12;not null;uniqueIndex:idx_sales_natural_key,priority:5" json:"source"`
	Volume     int64      `gorm:"not null" json:"volume"`
	Company    *Company   `gorm:"foreignKey:CompanyID" json:"company,omitempty"`
	Model      *CarModel  `gorm:"foreignKey:ModelID" json:"model,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName specifies the table name for SalesRecord
func (SalesRecord) TableName() string {
	return "sales_records"
}

// StockPrice is a daily close for a listed company. (CompanyID, Date) is unique.
type StockPrice struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CompanyID  uint      `gorm:"not null;uniqueIndex:idx_stock_prices_company_date,priority:1" json:"company_id"`
	Date       time.Time `gorm:"not null;uniqueIndex:idx_stock_prices_company_date,priority:2" json:"date"`
	ClosePrice float64   `gorm:"not null" json:"close_price"`
}

// TableName specifies the table name for StockPrice
func (StockPrice) TableName() string {
	return "stock_prices"
}

// PriceRecord is a guide vs. transacted price observation for a model.
// (ModelID, Date, Source) is unique. Rows tagged SourceSynthetic were generated
// by the enrichment pass and rank below real observations.
type PriceRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ModelID       uint      `gorm:"not null;uniqueIndex:idx_price_records_model_date_source,priority:1" json:"model_id"`
	Date          time.Time `gorm:"not null;uniqueIndex:idx_price_records_model_date_source,priority:2;index" json:"date"`
	Source        Source    `gorm:"size:12;not null;uniqueIndex:idx_price_records_model_date_source,priority:3" json:"source"`
	GuidePrice    float64   `json:"guide_price"`
	TerminalPrice float64   `json:"terminal_price"`
	DiscountRate  *float64  `json:"discount_rate"`
	Model         *CarModel `gorm:"foreignKey:ModelID" json:"model,omitempty"`
}

// TableName specifies the table name for PriceRecord
func (PriceRecord) TableName() string {
	return "price_records"
}

// IsSynthetic reports whether the record was generated rather than observed.
func (p PriceRecord) IsSynthetic() bool {
	return p.Source == SourceSynthetic
}

// Policy is static reference data used to annotate growth analytics.
type Policy struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Title       string    `gorm:"size:200;not null;uniqueIndex:idx_policies_title_date,priority:1" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Date        time.Time `gorm:"not null;uniqueIndex:idx_policies_title_date,priority:2" json:"date"`
	Category    string    `gorm:"size:20" json:"category"`     // SUBSIDY, TAX, REGULATION
	ImpactLevel string    `gorm:"size:10" json:"impact_level"` // HIGH, MEDIUM, LOW
}

// TableName specifies the table name for Policy
func (Policy) TableName() string {
	return "policies"
}

// SyncRun is the audit row of one ingestion run.
// Results holds the per-company outcome list as JSON.
type SyncRun struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	Kind       string         `gorm:"size:10;not null;index" json:"kind"` // SALES, STOCKS, ENRICH
	Source     string         `gorm:"size:12" json:"source,omitempty"`
	Status     string         `gorm:"size:10;not null" json:"status"` // SUCCESS, PARTIAL, FAILED
	StartedAt  time.Time      `gorm:"not null;index" json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Total      int            `json:"total"`
	Matched    int            `json:"matched"`
	Written    int            `json:"written"`
	Results    datatypes.JSON `json:"results"`
}

// TableName specifies the table name for SyncRun
func (SyncRun) TableName() string {
	return "sync_runs"
}
