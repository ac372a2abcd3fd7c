package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"go.uber.org/zap"
)

// Config holds database configuration
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// Preflight opens a short-lived lib/pq connection and pings it.
// It runs before the GORM pool is built so a misconfigured store fails fast
// with ErrStoreUnavailable instead of surfacing later as per-record errors.
func Preflight(ctx context.Context, cfg Config) error {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable connect_timeout=5",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName,
	)

	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return fmt.Errorf("%w: failed to open database: %v", ErrStoreUnavailable, err)
	}
	defer conn.Close()

	conn.SetConnMaxLifetime(30 * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.PingContext(pingCtx); err != nil {
		return fmt.Errorf("%w: failed to ping database: %v", ErrStoreUnavailable, err)
	}

	zap.S().Infof("✅ Database reachable at %s:%s/%s", cfg.Host, cfg.Port, cfg.DBName)
	return nil
}
