package analytics

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/database/types"
)

// Repository handles the read queries behind the analytics aggregator.
// Every query is scoped to monthly records of one source unless stated otherwise.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new analytics repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) companyLevel(ctx context.Context, source models.Source) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.SalesRecord{}).
		Where("model_id IS NULL AND period_type = ? AND source = ?", models.PeriodMonth, source)
}

// ============================================================================
// Reporting months
// ============================================================================

// RecentCompanyMonths returns the most recent distinct company-level reporting months, oldest first.
func (r *Repository) RecentCompanyMonths(ctx context.Context, source models.Source, limit int) ([]time.Time, error) {
	var dates []time.Time
	err := r.companyLevel(ctx, source).
		Distinct("date").
		Order("date DESC").
		Limit(limit).
		Pluck("date", &dates).Error
	if err != nil {
		return nil, fmt.Errorf("RecentCompanyMonths: %w", err)
	}

	for i, j := 0, len(dates)-1; i < j; i, j = i+1, j-1 {
		dates[i], dates[j] = dates[j], dates[i]
	}
	return dates, nil
}

// CompanyRecordsIn returns company-level records for the given months with companies loaded.
func (r *Repository) CompanyRecordsIn(ctx context.Context, source models.Source, months []time.Time) ([]models.SalesRecord, error) {
	if len(months) == 0 {
		return nil, nil
	}
	var records []models.SalesRecord
	err := r.companyLevel(ctx, source).
		Preload("Company").
		Where("date IN ?", months).
		Order("date ASC, volume DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("CompanyRecordsIn: %w", err)
	}
	return records, nil
}

// CompanyRecordsBetween returns company-level records in [from, to] for every company,
// optionally restricted to companyIDs.
func (r *Repository) CompanyRecordsBetween(ctx context.Context, source models.Source, from, to time.Time, companyIDs []uint) ([]models.SalesRecord, error) {
	query := r.companyLevel(ctx, source).
		Where("date >= ? AND date <= ?", from, to)
	if len(companyIDs) > 0 {
		query = query.Where("company_id IN ?", companyIDs)
	}

	var records []models.SalesRecord
	if err := query.Order("date ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("CompanyRecordsBetween: %w", err)
	}
	return records, nil
}

// ============================================================================
// Comparison
// ============================================================================

// dateWindow restricts a query to [from, to]; a zero bound leaves that side open.
func dateWindow(query *gorm.DB, from, to time.Time) *gorm.DB {
	if !from.IsZero() {
		query = query.Where("date >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("date <= ?", to)
	}
	return query
}

// CompanySalesSeries returns a company's positive-volume aggregate records in [from, to], oldest first.
func (r *Repository) CompanySalesSeries(ctx context.Context, companyID uint, period models.PeriodType, source models.Source, from, to time.Time) ([]models.SalesRecord, error) {
	var records []models.SalesRecord
	query := r.db.WithContext(ctx).
		Where("company_id = ? AND model_id IS NULL AND period_type = ? AND source = ? AND volume > 0",
			companyID, period, source)
	err := dateWindow(query, from, to).
		Order("date ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("CompanySalesSeries: %w", err)
	}
	return records, nil
}

// StockPrices returns a company's daily closes in [from, to], oldest first.
func (r *Repository) StockPrices(ctx context.Context, companyID uint, from, to time.Time) ([]models.StockPrice, error) {
	query := dateWindow(r.db.WithContext(ctx).Where("company_id = ?", companyID), from, to)

	var prices []models.StockPrice
	if err := query.Order("date ASC").Find(&prices).Error; err != nil {
		return nil, fmt.Errorf("StockPrices: %w", err)
	}
	return prices, nil
}

// GetCompany loads one company, returning nil when it does not exist.
func (r *Repository) GetCompany(ctx context.Context, id uint) (*models.Company, error) {
	var company models.Company
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&company).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("GetCompany: %w", err)
	}
	return &company, nil
}

// Companies returns companies ordered by ID, optionally restricted to ids.
func (r *Repository) Companies(ctx context.Context, ids []uint) ([]models.Company, error) {
	query := r.db.WithContext(ctx).Order("id ASC")
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}
	var companies []models.Company
	if err := query.Find(&companies).Error; err != nil {
		return nil, fmt.Errorf("Companies: %w", err)
	}
	return companies, nil
}

// ============================================================================
// Policies
// ============================================================================

// PoliciesBetween returns policies dated within [from, to], oldest first.
func (r *Repository) PoliciesBetween(ctx context.Context, from, to time.Time) ([]models.Policy, error) {
	var policies []models.Policy
	err := r.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", from, to).
		Order("date ASC").
		Find(&policies).Error
	if err != nil {
		return nil, fmt.Errorf("PoliciesBetween: %w", err)
	}
	return policies, nil
}

// ============================================================================
// Lifecycle
// ============================================================================

// TopModelsByPeak ranks models by their best single-month volume.
func (r *Repository) TopModelsByPeak(ctx context.Context, source models.Source, limit int) ([]types.ModelPeak, error) {
	var peaks []types.ModelPeak
	err := r.db.WithContext(ctx).Model(&models.SalesRecord{}).
		Select("model_id, MAX(volume) AS peak").
		Where("model_id IS NOT NULL AND period_type = ? AND source = ?", models.PeriodMonth, source).
		Group("model_id").
		Order("peak DESC, model_id ASC").
		Limit(limit).
		Scan(&peaks).Error
	if err != nil {
		return nil, fmt.Errorf("TopModelsByPeak: %w", err)
	}
	return peaks, nil
}

// ModelsByIDs loads models with their companies. Unknown IDs are skipped.
func (r *Repository) ModelsByIDs(ctx context.Context, ids []uint) ([]models.CarModel, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var carModels []models.CarModel
	if err := r.db.WithContext(ctx).Preload("Company").Where("id IN ?", ids).Find(&carModels).Error; err != nil {
		return nil, fmt.Errorf("ModelsByIDs: %w", err)
	}
	return carModels, nil
}

// ModelSeries returns a model's monthly records, oldest first.
func (r *Repository) ModelSeries(ctx context.Context, modelID uint, source models.Source) ([]models.SalesRecord, error) {
	var records []models.SalesRecord
	err := r.db.WithContext(ctx).
		Where("model_id = ? AND period_type = ? AND source = ?", modelID, models.PeriodMonth, source).
		Order("date ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("ModelSeries: %w", err)
	}
	return records, nil
}

// ============================================================================
// Pricing
// ============================================================================

// PriceRecordsBetween returns every price record (real and synthetic) in [from, to) with models loaded.
func (r *Repository) PriceRecordsBetween(ctx context.Context, from, to time.Time) ([]models.PriceRecord, error) {
	var records []models.PriceRecord
	err := r.db.WithContext(ctx).
		Preload("Model").
		Preload("Model.Company").
		Where("date >= ? AND date < ?", from, to).
		Order("date ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("PriceRecordsBetween: %w", err)
	}
	return records, nil
}

// ============================================================================
// Valuation
// ============================================================================

// CompanyVolumesBetween sums company-level volume per company over [from, to].
func (r *Repository) CompanyVolumesBetween(ctx context.Context, source models.Source, from, to time.Time) ([]types.CompanyVolume, error) {
	var rows []types.CompanyVolume
	err := r.companyLevel(ctx, source).
		Select("company_id, SUM(volume) AS volume").
		Where("date >= ? AND date <= ?", from, to).
		Group("company_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("CompanyVolumesBetween: %w", err)
	}
	return rows, nil
}
