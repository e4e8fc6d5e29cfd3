package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/teranos/recap/errors"
)

// maxBodyBytes caps request bodies; transcripts of multi-hour meetings stay well below it
const maxBodyBytes = 16 << 20

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// readJSON reads and decodes a JSON request body
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return err
	}
	return nil
}

// requireMethod checks if the request method matches the expected method
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// writeServiceError maps pipeline errors onto HTTP status codes
func writeServiceError(w http.ResponseWriter, log *zap.SugaredLogger, err error, context string) {
	var cfgErr *errors.ConfigurationError
	var dupErr *errors.DuplicateJobError

	switch {
	case errors.As(err, &cfgErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": cfgErr.Error(), "field": cfgErr.Field})
	case errors.As(err, &dupErr):
		writeJSON(w, http.StatusConflict, map[string]string{"error": dupErr.Error(), "active_job_id": dupErr.ActiveJobID})
	case errors.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errors.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.IsInvalidRequestError(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errors.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Errorw(context, "error", fmt.Sprintf("%+v", err))
		writeError(w, http.StatusInternalServerError, context)
	}
}

// parseIntQueryParam parses an integer query parameter clamped to [min, max]
func parseIntQueryParam(r *http.Request, name string, defaultValue, min, max int) int {
	valueStr := r.URL.Query().Get(name)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
