package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/clause"

	models "evsales-dashboard/database/models_pkg"
)

func strPtr(s string) *string { return &s }

// DefaultCompanies is the canonical company list the resolver matches against.
var DefaultCompanies = []models.Company{
	{Name: "比亚迪 (BYD)", StockSymbol: strPtr("1211.HK"), Market: "HK"},
	{Name: "蔚来 (NIO)", StockSymbol: strPtr("9866.HK"), Market: "HK"},
	{Name: "小鹏 (XPeng)", StockSymbol: strPtr("9868.HK"), Market: "HK"},
	{Name: "理想 (Li Auto)", StockSymbol: strPtr("2015.HK"), Market: "HK"},
	{Name: "赛力斯 (Seres)", StockSymbol: strPtr("601127.SS"), Market: "A"},
	{Name: "小米 (Xiaomi)", StockSymbol: strPtr("1810.HK"), Market: "HK"},
}

// DefaultPolicies is the policy reference list annotating growth analytics.
var DefaultPolicies = []models.Policy{
	{
		Title:       "以旧换新补贴政策",
		Description: "国家加力支持消费品以旧换新，报废更新补贴标准翻倍。",
		Date:        time.Date(2024, 4, 26, 0, 0, 0, 0, time.UTC),
		Category:    "SUBSIDY",
		ImpactLevel: "HIGH",
	},
	{
		Title:       "新能源免征购置税延续",
		Description: "对新能源汽车免征车辆购置税，进一步稳定市场预期。",
		Date:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Category:    "TAX",
		ImpactLevel: "MEDIUM",
	},
	{
		Title:       "国六B排放标准全面实施",
		Description: "全国范围全面实施国六排放标准6b阶段，库存车清理加速。",
		Date:        time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC),
		Category:    "REGULATION",
		ImpactLevel: "HIGH",
	},
}

// Seed inserts the default companies (matched by ticker) and policies (matched by title and date).
// Existing rows are left untouched, so seeding is safe to repeat.
func (d *Database) Seed(ctx context.Context) error {
	db := d.WithContext(ctx)

	for _, c := range DefaultCompanies {
		company := c
		if err := db.Where("stock_symbol = ?", *company.StockSymbol).
			FirstOrCreate(&company).Error; err != nil {
			return WrapDBError("Seed companies", fmt.Errorf("%s: %w", company.Name, err))
		}
	}
	zap.S().Infof("🌱 Seeded %d companies", len(DefaultCompanies))

	policies := make([]models.Policy, len(DefaultPolicies))
	copy(policies, DefaultPolicies)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&policies).Error; err != nil {
		return WrapDBError("Seed policies", err)
	}
	zap.S().Infof("🌱 Seeded %d policies", len(DefaultPolicies))

	return nil
}
