// Package dbtest opens throwaway SQLite stores for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"evsales-dashboard/database"
)

var seq atomic.Int64

// Open returns a migrated in-memory store private to t. It is closed on cleanup.
func Open(t *testing.T) *database.Database {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	db, err := database.OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return db
}

// OpenSeeded is Open plus the default companies and policies.
func OpenSeeded(t *testing.T) *database.Database {
	t.Helper()
	db := Open(t)
	if err := db.Seed(t.Context()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}
