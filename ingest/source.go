// Package ingest pulls sales and market data from external providers, resolves
// provider names to canonical entities and writes them through the upsert engine.
package ingest

import (
	"context"
	"errors"

	models "evsales-dashboard/database/models_pkg"
)

// SalesItem is one record returned by a sales provider.
type SalesItem struct {
	EntityName string // manufacturer name as the provider spells it
	ModelName  string // empty for company-level records
	Period     string // YYYYMM
	Volume     int64
}

// SalesDataSource is a provider of monthly sales records.
// FetchWindow returns the records published for one YYYYMM period.
type SalesDataSource interface {
	Tag() models.Source
	FetchWindow(ctx context.Context, period string) ([]SalesItem, error)
}

// ErrNoData marks a window the provider has not published.
var ErrNoData = errors.New("no data for period")
