// Package database provides store connection management for the EV sales dashboard.
//
// This package includes:
//   - Connection management using GORM with PostgreSQL (production) or SQLite (local runs, tests)
//   - Schema initialization with the natural-key unique indexes the ingestion pipeline relies on
//   - Typed error handling shared by the repositories
//
// Key Concepts:
//   - Natural keys, not surrogate IDs, drive idempotent upserts
//   - The *Database handle is created once and passed explicitly to every repository
//
// Data Models:
//
//	All data models (Company, CarModel, SalesRecord, ...) are defined in the models_pkg package
//	to avoid circular import dependencies.
package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	models "evsales-dashboard/database/models_pkg"

	_ "modernc.org/sqlite" // pure-Go SQLite driver registered as "sqlite"
)

// Database holds the GORM database connection and provides access to the underlying DB instance.
type Database struct {
	db *gorm.DB
}

// DB returns the underlying GORM database instance for direct access when needed.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// WithContext returns a session bound to ctx; every unit of work starts here.
func (d *Database) WithContext(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx)
}

// Connect establishes a PostgreSQL connection using GORM
func Connect(host string, port int, dbname, user, password string) (*Database, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, dbname, user, password)

	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Database{db: db}, nil
}

// OpenSQLite opens a SQLite store through the pure-Go driver.
// dsn follows modernc.org/sqlite syntax, e.g. "file:dashboard.db" or "file:test?mode=memory&cache=shared".
func OpenSQLite(dsn string) (*Database, error) {
	db, err := gorm.Open(sqlite.New(sqlite.Config{
		DriverName: "sqlite",
		DSN:        dsn,
	}), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY under the sync loop
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &Database{db: db}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent), // Silent logging for production
		TranslateError: true,
	}
}

// Ping verifies the store is reachable.
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InitSchema migrates every table. The composite unique indexes declared on the
// models are the load-bearing contract for idempotent re-sync.
func (d *Database) InitSchema() error {
	zap.S().Info("🔄 Starting database schema initialization...")

	err := d.db.AutoMigrate(
		&models.Company{},
		&models.CarModel{},
		&models.SalesRecord{},
		&models.StockPrice{},
		&models.PriceRecord{},
		&models.Policy{},
		&models.SyncRun{},
	)
	if err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	zap.S().Info("✅ Database schema initialization completed successfully")
	return nil
}

// ============================================================================
// Type Aliases
// ============================================================================

type Company = models.Company
type CarModel = models.CarModel
type SalesRecord = models.SalesRecord
type StockPrice = models.StockPrice
type PriceRecord = models.PriceRecord
type Policy = models.Policy
type SyncRun = models.SyncRun
