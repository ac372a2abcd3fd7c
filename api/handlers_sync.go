package api

import (
	"net/http"

	"evsales-dashboard/database"
	"evsales-dashboard/ingest"
)

var (
	minSyncMonths = 1
	maxSyncMonths = 60
)

// handleHealth returns the health status of the API
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{"status": "ok", "database": "up"}
	code := http.StatusOK
	if err := s.db.Ping(r.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = "down"
		code = http.StatusServiceUnavailable
	}
	if s.broker != nil {
		status["clients"] = s.broker.ClientCount()
	}
	writeJSON(w, code, status)
}

// writeReport answers a sync trigger. Runs serialize; a concurrent trigger gets 409.
func writeReport(w http.ResponseWriter, report *ingest.Report, err error) {
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSyncSales(w http.ResponseWriter, r *http.Request) {
	source, err := getSourceParam(r)
	if err != nil {
		respondWithError(w, err)
		return
	}
	months := getIntParam(r, "months", 0, &minSyncMonths, &maxSyncMonths)

	report, err := s.pipeline.SyncSales(r.Context(), source, months)
	writeReport(w, report, err)
}

func (s *Server) handleSyncStocks(w http.ResponseWriter, r *http.Request) {
	report, err := s.pipeline.SyncStocks(r.Context())
	writeReport(w, report, err)
}

func (s *Server) handleSyncEnrich(w http.ResponseWriter, r *http.Request) {
	report, err := s.pipeline.Enrich(r.Context())
	writeReport(w, report, err)
}

func (s *Server) handleSyncRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListSyncRuns(r.Context(), database.SyncRunListLimit)
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
