// Package aggregator turns persisted sales, price and stock series into the
// derived analytics served to the dashboard.
//
// The compute functions are pure: they take already loaded records and return plain
// result structs ready for charting. Missing data is always an explicit nil
// (JSON null), never a zero. Service wires them to the store and the cache.
package aggregator
