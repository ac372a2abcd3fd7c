package sales

import (
	"context"
	"time"

	"evsales-dashboard/database"
	models "evsales-dashboard/database/models_pkg"
)

// ListCompanies returns every company ordered by ID, the resolver's iteration order.
func (r *Repository) ListCompanies(ctx context.Context) ([]models.Company, error) {
	var companies []models.Company
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&companies).Error; err != nil {
		return nil, database.WrapDBError("ListCompanies", err)
	}
	return companies, nil
}

// ListListedCompanies returns companies that carry a stock ticker.
func (r *Repository) ListListedCompanies(ctx context.Context) ([]models.Company, error) {
	var companies []models.Company
	err := r.db.WithContext(ctx).
		Where("stock_symbol IS NOT NULL AND stock_symbol <> ''").
		Order("id ASC").
		Find(&companies).Error
	if err != nil {
		return nil, database.WrapDBError("ListListedCompanies", err)
	}
	return companies, nil
}

// ListModels returns every car model with its owning company loaded.
func (r *Repository) ListModels(ctx context.Context) ([]models.CarModel, error) {
	var carModels []models.CarModel
	if err := r.db.WithContext(ctx).Preload("Company").Order("id ASC").Find(&carModels).Error; err != nil {
		return nil, database.WrapDBError("ListModels", err)
	}
	return carModels, nil
}

// UpdateModelMetadata stores a classification result.
func (r *Repository) UpdateModelMetadata(ctx context.Context, modelID uint, category models.Category, energy models.EnergyType, source models.MetadataSource) error {
	err := r.db.WithContext(ctx).Model(&models.CarModel{}).Where("id = ?", modelID).Updates(map[string]interface{}{
		"category":        category,
		"energy_type":     energy,
		"metadata_source": source,
	}).Error
	if err != nil {
		return database.WrapDBError("UpdateModelMetadata", err)
	}
	return nil
}

// RealPriceMonths returns the dates of non-synthetic price records for a model since a date.
func (r *Repository) RealPriceMonths(ctx context.Context, modelID uint, since time.Time) ([]time.Time, error) {
	var dates []time.Time
	err := r.db.WithContext(ctx).Model(&models.PriceRecord{}).
		Where("model_id = ? AND date >= ? AND source <> ?", modelID, since, models.SourceSynthetic).
		Pluck("date", &dates).Error
	if err != nil {
		return nil, database.WrapDBError("RealPriceMonths", err)
	}
	return dates, nil
}

// CountSales counts records matching a natural key; used to verify key uniqueness.
func (r *Repository) CountSales(ctx context.Context, key Key) (int64, error) {
	var n int64
	if err := key.scope(r.db.WithContext(ctx).Model(&models.SalesRecord{})).Count(&n).Error; err != nil {
		return 0, database.WrapDBError("CountSales", err)
	}
	return n, nil
}

// Ranking returns the month's records for a source ordered by volume.
// modelLevel selects model breakdown rows instead of company aggregates.
func (r *Repository) Ranking(ctx context.Context, month time.Time, source models.Source, modelLevel bool, limit int) ([]models.SalesRecord, error) {
	query := r.db.WithContext(ctx).
		Preload("Company").
		Where("date = ? AND source = ? AND period_type = ?", month, source, models.PeriodMonth).
		Order("volume DESC")

	if modelLevel {
		query = query.Preload("Model").Where("model_id IS NOT NULL")
	} else {
		query = query.Where("model_id IS NULL")
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.SalesRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, database.WrapDBError("Ranking", err)
	}
	return records, nil
}

// ModelVolume is one row of a company's model breakdown for a month.
type ModelVolume struct {
	ID     uint   `json:"id"`
	Name   string `json:"name"`
	Volume int64  `json:"volume"`
}

// ModelBreakdown lists every model of a company with its volume in month (0 when unreported),
// highest first.
func (r *Repository) ModelBreakdown(ctx context.Context, companyID uint, month time.Time, source models.Source) ([]ModelVolume, error) {
	var rows []ModelVolume
	err := r.db.WithContext(ctx).
		Table("car_models AS m").
		Select("m.id AS id, m.name AS name, COALESCE(s.volume, 0) AS volume").
		Joins("LEFT JOIN sales_records AS s ON s.model_id = m.id AND s.date = ? AND s.source = ? AND s.period_type = ?",
			month, source, models.PeriodMonth).
		Where("m.company_id = ?", companyID).
		Order("volume DESC, m.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, database.WrapDBError("ModelBreakdown", err)
	}
	return rows, nil
}

// SaveSyncRun persists a sync audit row.
func (r *Repository) SaveSyncRun(ctx context.Context, run *models.SyncRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return database.WrapDBError("SaveSyncRun", err)
	}
	return nil
}

// ListSyncRuns returns the most recent sync runs.
func (r *Repository) ListSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	var runs []models.SyncRun
	query := r.db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&runs).Error; err != nil {
		return nil, database.WrapDBError("ListSyncRuns", err)
	}
	return runs, nil
}
