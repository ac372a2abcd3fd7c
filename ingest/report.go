package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	models "evsales-dashboard/database/models_pkg"
)

// Run kinds
const (
	KindSales  = "SALES"
	KindStocks = "STOCKS"
	KindEnrich = "ENRICH"
)

// Run statuses
const (
	StatusSuccess = "SUCCESS"
	StatusPartial = "PARTIAL"
	StatusFailed  = "FAILED"
)

// maxUnresolvedNames caps the unresolved-name sample kept in a report.
const maxUnresolvedNames = 50

// CompanyResult is the per-company outcome of a run.
type CompanyResult struct {
	CompanyID uint   `json:"company_id"`
	Company   string `json:"company"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// WindowFailure records a fetch window the provider could not serve.
type WindowFailure struct {
	Period string `json:"period"`
	Error  string `json:"error"`
}

// Report describes one ingestion run. It is persisted as a SyncRun and pushed to notifiers.
type Report struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Source     string          `json:"source,omitempty"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Total      int             `json:"total"`
	Matched    int             `json:"matched"`
	Dropped    int             `json:"dropped"`
	Written    int             `json:"written"`
	Companies  []CompanyResult `json:"companies"`
	Windows    []WindowFailure `json:"window_failures,omitempty"`
	Unresolved []string        `json:"unresolved,omitempty"`
	Detail     interface{}     `json:"detail,omitempty"`

	failed int // failures not attributable to a company or window
}

func newReport(kind, source string, now time.Time) *Report {
	return &Report{
		ID:        uuid.NewString(),
		Kind:      kind,
		Source:    source,
		StartedAt: now,
	}
}

// Coverage is the share of fetched records that resolved to a company, in percent.
func (r *Report) Coverage() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Matched) / float64(r.Total) * 100
}

// Failures counts failed windows plus failed company writes.
func (r *Report) Failures() int {
	n := len(r.Windows) + r.failed
	for _, c := range r.Companies {
		n += c.Failed
	}
	return n
}

// settle sets the final status: FAILED when nothing was written despite failures,
// PARTIAL when some work failed, SUCCESS otherwise.
func (r *Report) settle(now time.Time) {
	r.FinishedAt = now
	switch failures := r.Failures(); {
	case failures == 0:
		r.Status = StatusSuccess
	case r.Written == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
}

func (r *Report) syncRun() (*models.SyncRun, error) {
	results, err := json.Marshal(struct {
		Companies  []CompanyResult `json:"companies"`
		Windows    []WindowFailure `json:"window_failures,omitempty"`
		Unresolved []string        `json:"unresolved,omitempty"`
		Dropped    int             `json:"dropped"`
		Detail     interface{}     `json:"detail,omitempty"`
	}{r.Companies, r.Windows, r.Unresolved, r.Dropped, r.Detail})
	if err != nil {
		return nil, err
	}
	return &models.SyncRun{
		ID:         r.ID,
		Kind:       r.Kind,
		Source:     r.Source,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Total:      r.Total,
		Matched:    r.Matched,
		Written:    r.Written,
		Results:    datatypes.JSON(results),
	}, nil
}

// Notifier is told about every finished run.
type Notifier interface {
	SyncCompleted(ctx context.Context, report *Report)
}

// companyTally accumulates CompanyResults in first-seen order.
type companyTally struct {
	order []uint
	byID  map[uint]*CompanyResult
}

func newCompanyTally() *companyTally {
	return &companyTally{byID: make(map[uint]*CompanyResult)}
}

func (t *companyTally) get(c *models.Company) *CompanyResult {
	if r, ok := t.byID[c.ID]; ok {
		return r
	}
	r := &CompanyResult{CompanyID: c.ID, Company: c.Name}
	t.byID[c.ID] = r
	t.order = append(t.order, c.ID)
	return r
}

func (t *companyTally) results() []CompanyResult {
	out := make([]CompanyResult, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.byID[id])
	}
	return out
}
