package api

import (
	"net/http"
	"strings"

	"evsales-dashboard/database"
	models "evsales-dashboard/database/models_pkg"
)

var (
	minYear = 2000
	maxYear = 2100
)

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.analytics.Companies(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, companies)
}

// handleCharts returns the normalized stock vs. sales series of one company.
func (s *Server) handleCharts(w http.ResponseWriter, r *http.Request) {
	companyID, err := getIDParam(r, "companyId")
	if err != nil {
		respondWithError(w, err)
		return
	}
	source, err := getSourceParam(r)
	if err != nil {
		respondWithError(w, err)
		return
	}

	period := models.PeriodMonth
	if p := r.URL.Query().Get("periodType"); p != "" {
		period = models.PeriodType(strings.ToUpper(p))
		if !period.Valid() {
			respondWithError(w, database.NewValidationErrorWithValue("periodType", "must be WEEK or MONTH", p))
			return
		}
	}

	start, err := getDateParam(r, "start")
	if err != nil {
		respondWithError(w, err)
		return
	}
	end, err := getDateParam(r, "end")
	if err != nil {
		respondWithError(w, err)
		return
	}

	comparison, err := s.analytics.Comparison(r.Context(), companyID, period, source, start, end)
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comparison)
}

func (s *Server) handleCompanyComparison(w http.ResponseWriter, r *http.Request) {
	ids, err := getIDListParam(r, "ids")
	if err != nil {
		respondWithError(w, err)
		return
	}
	source, err := getSourceParam(r)
	if err != nil {
		respondWithError(w, err)
		return
	}
	year := getIntParam(r, "year", defaultYear, &minYear, &maxYear)

	rows, err := s.analytics.CompanyComparison(r.Context(), ids, year, source)
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGrowth(w http.ResponseWriter, r *http.Request) {
	source, err := getSourceParam(r)
	if err != nil {
		respondWithError(w, err)
		return
	}
	year := getIntParam(r, "year", defaultYear, &minYear, &maxYear)

	matrix, err := s.analytics.Growth(r.Context(), year, source)
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matrix)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	source, err := getSourceParam(r)
	if err != nil {
		respondWithError(w, err)
		return
	}
	months, err := s.analytics.Market(r.Context(), source)
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, months)
}

// handleLifecycle charts the given models, or the top models by peak volume when modelIds is empty.
func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	source, err := getSourceParam(r)
	if err != nil {
		respondWithError(w, err)
		return
	}
	ids, err := getIDListParam(r, "modelIds")
	if err != nil {
		respondWithError(w, err)
		return
	}
	series, err := s.analytics.Lifecycle(r.Context(), source, ids)
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handlePricing(w http.ResponseWriter, r *http.Request) {
	source, err := getSourceParam(r)
	if err != nil {
		respondWithError(w, err)
		return
	}
	trend, err := s.analytics.Pricing(r.Context(), source)
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trend)
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	source, err := getSourceParam(r)
	if err != nil {
		respondWithError(w, err)
		return
	}
	rows, err := s.analytics.Valuation(r.Context(), source)
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleRanking ranks companies (type=company, default) or models (type=model) for ?date=YYYYMM.
func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	date := query.Get("date")
	if date == "" {
		respondWithError(w, database.NewValidationErrorWithValue("date", "is required", nil))
		return
	}
	source, err := getSourceParam(r)
	if err != nil {
		respondWithError(w, err)
		return
	}

	var modelLevel bool
	switch kind := strings.ToLower(query.Get("type")); kind {
	case "", "company":
	case "model":
		modelLevel = true
	default:
		respondWithError(w, database.NewValidationErrorWithValue("type", "must be company or model", kind))
		return
	}

	entries, err := s.analytics.Ranking(r.Context(), date, source, modelLevel)
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	companyID, err := getIDParam(r, "companyId")
	if err != nil {
		respondWithError(w, err)
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		respondWithError(w, database.NewValidationErrorWithValue("date", "is required", nil))
		return
	}
	source, err := getSourceParam(r)
	if err != nil {
		respondWithError(w, err)
		return
	}

	rows, err := s.analytics.Models(r.Context(), companyID, date, source)
	if err != nil {
		respondWithError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
