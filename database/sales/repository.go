package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"evsales-dashboard/database"
	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/helpers"
)

// Repository is the time-series upsert engine. Every write is keyed by a natural key
// and overwrites, never accumulates, so re-running a sync is always safe.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new sales repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Key is the natural key of a SalesRecord.
type Key struct {
	CompanyID  uint
	ModelID    *uint // nil for company-level aggregates
	Date       time.Time
	PeriodType models.PeriodType
	Source     models.Source
}

func (k Key) modelKey() uint {
	if k.ModelID == nil {
		return 0
	}
	return *k.ModelID
}

func (k Key) String() string {
	return fmt.Sprintf("company=%d model=%d date=%s period=%s source=%s",
		k.CompanyID, k.modelKey(), k.Date.Format("2006-01-02"), k.PeriodType, k.Source)
}

// NormalizePeriod truncates t to the first day of its reporting period in loc.
// Two dates inside the same period always normalize to the same value.
func NormalizePeriod(t time.Time, period models.PeriodType, loc *time.Location) (time.Time, error) {
	switch period {
	case models.PeriodMonth:
		return helpers.MonthStart(t, loc), nil
	case models.PeriodWeek:
		return helpers.WeekStart(t, loc), nil
	default:
		return time.Time{}, database.NewValidationErrorWithValue("period_type", "unknown period type", period)
	}
}

// Validate checks the key is complete and already normalized.
func (k Key) Validate() error {
	if k.CompanyID == 0 {
		return database.NewValidationErrorWithValue("company_id", "must be set", k.CompanyID)
	}
	if k.ModelID != nil && *k.ModelID == 0 {
		return database.NewValidationErrorWithValue("model_id", "must be nil or non-zero", 0)
	}
	if k.Source == "" {
		return database.NewValidationErrorWithValue("source", "must be set", k.Source)
	}
	normalized, err := NormalizePeriod(k.Date, k.PeriodType, time.UTC)
	if err != nil {
		return err
	}
	if !normalized.Equal(k.Date) {
		return database.NewValidationErrorWithValue("date", "not normalized to the start of its period", k.Date)
	}
	return nil
}

func (k Key) scope(db *gorm.DB) *gorm.DB {
	return db.Where("company_id = ? AND model_key = ? AND date = ? AND period_type = ? AND source = ?",
		k.CompanyID, k.modelKey(), k.Date, k.PeriodType, k.Source)
}

// UpsertSales ensures exactly one record exists for key, holding volume.
func (r *Repository) UpsertSales(ctx context.Context, key Key, volume int64) (*models.SalesRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if volume < 0 {
		return nil, database.NewValidationErrorWithValue("volume", "must be non-negative", volume)
	}

	fresh := &models.SalesRecord{
		CompanyID:  key.CompanyID,
		ModelID:    key.ModelID,
		ModelKey:   key.modelKey(),
		Date:       key.Date,
		PeriodType: key.PeriodType,
		Source:     key.Source,
		Volume:     volume,
	}
	return upsertRow(r.db.WithContext(ctx), "UpsertSales", key.scope, fresh, func(rec *models.SalesRecord) map[string]interface{} {
		rec.Volume = volume
		return map[string]interface{}{"volume": volume}
	})
}

// UpsertModel returns the (companyID, name) model, creating it with placeholder
// metadata on first sighting. The enrichment pass classifies it later.
func (r *Repository) UpsertModel(ctx context.Context, companyID uint, name string) (*models.CarModel, error) {
	if companyID == 0 || name == "" {
		return nil, database.NewValidationErrorWithValue("car_model", "company and name are required", name)
	}

	db := r.db.WithContext(ctx)
	scope := func(tx *gorm.DB) *gorm.DB {
		return tx.Where("company_id = ? AND name = ?", companyID, name)
	}

	var existing models.CarModel
	err := db.Scopes(scope).Take(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, database.WrapDBError("UpsertModel", err)
	}

	model := &models.CarModel{
		CompanyID:      companyID,
		Name:           name,
		Category:       models.CategoryUnknown,
		EnergyType:     models.EnergyUnknown,
		MetadataSource: models.MetadataPending,
	}
	if err := db.Create(model).Error; err != nil {
		if !database.IsUniqueViolation(err) {
			return nil, database.WrapDBError("UpsertModel", err)
		}
		if err := db.Scopes(scope).Take(&existing).Error; err != nil {
			return nil, database.WrapDBError("UpsertModel", err)
		}
		return &existing, nil
	}
	return model, nil
}

// UpsertStockPrice writes the close for (companyID, day).
func (r *Repository) UpsertStockPrice(ctx context.Context, companyID uint, day time.Time, closePrice float64) (*models.StockPrice, error) {
	if companyID == 0 {
		return nil, database.NewValidationErrorWithValue("company_id", "must be set", companyID)
	}
	scope := func(tx *gorm.DB) *gorm.DB {
		return tx.Where("company_id = ? AND date = ?", companyID, day)
	}
	fresh := &models.StockPrice{CompanyID: companyID, Date: day, ClosePrice: closePrice}
	return upsertRow(r.db.WithContext(ctx), "UpsertStockPrice", scope, fresh, func(p *models.StockPrice) map[string]interface{} {
		p.ClosePrice = closePrice
		return map[string]interface{}{"close_price": closePrice}
	})
}

// UpsertPriceRecord writes a price observation keyed by (ModelID, Date, Source).
func (r *Repository) UpsertPriceRecord(ctx context.Context, rec models.PriceRecord) (*models.PriceRecord, error) {
	if rec.ModelID == 0 || rec.Source == "" {
		return nil, database.NewValidationErrorWithValue("price_record", "model and source are required", rec.ModelID)
	}
	scope := func(tx *gorm.DB) *gorm.DB {
		return tx.Where("model_id = ? AND date = ? AND source = ?", rec.ModelID, rec.Date, rec.Source)
	}
	fresh := rec
	return upsertRow(r.db.WithContext(ctx), "UpsertPriceRecord", scope, &fresh, func(p *models.PriceRecord) map[string]interface{} {
		p.GuidePrice = rec.GuidePrice
		p.TerminalPrice = rec.TerminalPrice
		p.DiscountRate = rec.DiscountRate
		return map[string]interface{}{
			"guide_price":    rec.GuidePrice,
			"terminal_price": rec.TerminalPrice,
			"discount_rate":  rec.DiscountRate,
		}
	})
}

// upsertRow finds the row selected by scope and overwrites it, or creates fresh.
func upsertRow[T any](db *gorm.DB, op string, scope func(*gorm.DB) *gorm.DB, fresh *T, apply func(*T) map[string]interface{}) (*T, error) {
	var existing T
	err := db.Scopes(scope).Take(&existing).Error
	if err == nil {
		if err := db.Model(&existing).Updates(apply(&existing)).Error; err != nil {
			return nil, database.WrapDBError(op, err)
		}
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, database.WrapDBError(op, err)
	}
	return createOrOverwrite(db, op, scope, fresh, apply)
}

// createOrOverwrite inserts fresh; when the insert loses a find-then-create race
// the unique index rejects it and the write is retried as an update.
func createOrOverwrite[T any](db *gorm.DB, op string, scope func(*gorm.DB) *gorm.DB, fresh *T, apply func(*T) map[string]interface{}) (*T, error) {
	err := db.Create(fresh).Error
	if err == nil {
		return fresh, nil
	}
	if !database.IsUniqueViolation(err) {
		return nil, database.WrapDBError(op, err)
	}

	var existing T
	if err := db.Scopes(scope).Take(&existing).Error; err != nil {
		return nil, database.WrapDBError(op+" retry", err)
	}
	if err := db.Model(&existing).Updates(apply(&existing)).Error; err != nil {
		return nil, database.WrapDBError(op+" retry", err)
	}
	return &existing, nil
}
