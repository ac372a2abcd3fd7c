package ingest

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// htmlTable is the first data table of a provider page.
type htmlTable struct {
	headers []string
	rows    [][]string
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseHTMLTable extracts the first table that has a header row and at least one data row.
// A header row is a row of <th> cells, or the first row when the table has no <th>.
func parseHTMLTable(body []byte) (*htmlTable, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var found *htmlTable
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		t := &htmlTable{}
		table.Find("tr").Each(func(i int, tr *goquery.Selection) {
			cells := []string{}
			ths := tr.Find("th")
			if ths.Length() > 0 && t.headers == nil {
				ths.Each(func(_ int, c *goquery.Selection) { cells = append(cells, cleanText(c.Text())) })
				t.headers = cells
				return
			}
			tr.Find("td").Each(func(_ int, c *goquery.Selection) { cells = append(cells, cleanText(c.Text())) })
			if len(cells) == 0 {
				return
			}
			if t.headers == nil {
				t.headers = cells
				return
			}
			t.rows = append(t.rows, cells)
		})
		if t.headers != nil && len(t.rows) > 0 {
			found = t
			return false
		}
		return true
	})

	if found == nil {
		return nil, ErrNoData
	}
	return found, nil
}

// column returns the index of the first header containing any of names, or -1.
func (t *htmlTable) column(names ...string) int {
	for i, h := range t.headers {
		for _, n := range names {
			if strings.Contains(h, n) {
				return i
			}
		}
	}
	return -1
}

func (t *htmlTable) cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

var headerPeriod = regexp.MustCompile(`((?:19|20)\d{2})\s*(?:年|-|/|\.)?\s*(\d{1,2})\s*月?`)

// headerMonth reads a column header such as "2024年12月", "2024-1" or "202412" as YYYYMM.
// Cumulative and ratio columns are rejected.
func headerMonth(h string) (string, bool) {
	for _, skip := range []string{"到", "累计", "同比", "环比", "%"} {
		if strings.Contains(h, skip) {
			return "", false
		}
	}
	m := headerPeriod.FindStringSubmatch(h)
	if m == nil {
		return "", false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return "", false
	}
	return fmt.Sprintf("%04d%02d", year, month), true
}

// parseNumber reads a numeric cell, tolerating thousands separators and unit suffixes.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(",", "", "，", "", " ", "", "辆", "", "万", "").Replace(s)
	if s == "" || s == "-" || s == "--" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// memo caches one value for a while; used for providers that return all periods at once.
type memo[T any] struct {
	value   T
	fetched time.Time
	ok      bool
}

func (m *memo[T]) get(ttl time.Duration, now time.Time) (T, bool) {
	if !m.ok || now.Sub(m.fetched) > ttl {
		var zero T
		return zero, false
	}
	return m.value, true
}

func (m *memo[T]) set(v T, now time.Time) {
	m.value, m.fetched, m.ok = v, now, true
}
