package database

import "time"

// Analytics windows
const (
	// ConcentrationMonths is how many recent company-level months the HHI/CRn trend covers
	ConcentrationMonths = 12

	// PricingTrendMonths is how many recent company-level months the discount trend covers
	PricingTrendMonths = 24

	// LifecycleTopModels is the number of models picked by peak volume when none are requested
	LifecycleTopModels = 10

	// ValuationTrailingMonths is the trailing window summed into annual sales volume
	ValuationTrailingMonths = 12

	// ModelDiscountRankingLimit caps the per-model discount ranking
	ModelDiscountRankingLimit = 10
)

// Ranking limits
const (
	CompanyRankingLimit = 30
	ModelRankingLimit   = 50
)

// Concentration ratio depths
const (
	CR3Depth = 3
	CR5Depth = 5
)

// Discount intensity thresholds (percent)
const (
	DiscountIntensityHigh   = 15.0
	DiscountIntensityMedium = 10.0
)

// Simulated discount trend parameters used when a month has no price observations
const (
	SimulatedDiscountBase        = 8.0
	SimulatedDiscountStep        = 0.4
	SimulatedDiscountDecemberAdj = 2.0
)

// Sync defaults
const (
	DefaultSyncMonths        = 12
	DefaultStockHistoryYears = 2
	SyncRunListLimit         = 20
)

// Cache TTLs
const (
	FundamentalsCacheTTL = 6 * time.Hour
)
