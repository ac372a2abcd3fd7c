package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"evsales-dashboard/database"
	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/ingest"
)

const defaultYear = 2025

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("Encode response failed", zap.Error(err))
	}
}

// getIntParam retrieves an integer query parameter with default value and optional range validation
func getIntParam(r *http.Request, key string, defaultVal int, minVal, maxVal *int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}

	if minVal != nil && val < *minVal {
		return defaultVal
	}
	if maxVal != nil && val > *maxVal {
		return defaultVal
	}

	return val
}

// getIDParam parses a required positive ID query parameter.
func getIDParam(r *http.Request, key string) (uint, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return 0, database.NewValidationErrorWithValue(key, "is required", nil)
	}
	val, err := strconv.ParseUint(valStr, 10, 32)
	if err != nil || val == 0 {
		return 0, database.NewValidationErrorWithValue(key, "must be a positive integer", valStr)
	}
	return uint(val), nil
}

// getIDListParam parses a comma-separated ID list. Empty input yields nil.
func getIDListParam(r *http.Request, key string) ([]uint, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return nil, nil
	}
	var ids []uint
	for _, part := range strings.Split(valStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		val, err := strconv.ParseUint(part, 10, 32)
		if err != nil || val == 0 {
			return nil, database.NewValidationErrorWithValue(key, "must be a list of positive integers", valStr)
		}
		ids = append(ids, uint(val))
	}
	return ids, nil
}

// getSourceParam reads ?source, defaulting to GASGOO.
func getSourceParam(r *http.Request) (models.Source, error) {
	valStr := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("source")))
	if valStr == "" {
		return models.SourceGasgoo, nil
	}
	src, ok := models.ParseSalesSource(valStr)
	if !ok {
		return "", database.NewValidationErrorWithValue("source", "unknown sales source", valStr)
	}
	return src, nil
}

// getDateParam parses an optional YYYY-MM-DD query parameter as UTC midnight.
func getDateParam(r *http.Request, key string) (time.Time, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, valStr)
	if err != nil {
		return time.Time{}, database.NewValidationErrorWithValue(key, "must be YYYY-MM-DD", valStr)
	}
	return t, nil
}

// statusFor maps typed errors to HTTP status codes.
func statusFor(err error) int {
	var validation *database.ValidationError
	switch {
	case errors.As(err, &validation), errors.Is(err, ingest.ErrUnknownSource):
		return http.StatusBadRequest
	case database.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, database.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithError logs the error and sends a JSON error response.
// Internal errors are logged but answered with a generic message.
func respondWithError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		zap.L().Error("API error", zap.Int("code", code), zap.Error(err))
		message = "internal server error"
	} else {
		zap.L().Debug("API error", zap.Int("code", code), zap.Error(err))
	}
	writeJSON(w, code, map[string]string{"error": message})
}
