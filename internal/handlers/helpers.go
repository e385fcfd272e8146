package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/ternarybob/tessera/internal/models"
)

// maxBodyBytes bounds a single request body. Import streams bypass this.
const maxBodyBytes = 8 * 1024 * 1024

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) error {
	return WriteJSON(w, statusCode, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// WriteServiceError maps a service error onto the REST surface: the error
// kind drives both the status code and the error code in the body.
func WriteServiceError(w http.ResponseWriter, err error) error {
	return WriteError(w, models.HTTPStatus(err), string(models.KindOf(err)), err.Error())
}

// ReadBody reads and returns the full request body, bounded.
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, string(models.KindArgument), "failed to read request body")
		return nil, false
	}
	return body, true
}

// BoolQuery parses a boolean query parameter, defaulting to false.
func BoolQuery(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

// IntQuery parses an integer query parameter, returning def when absent or
// malformed.
func IntQuery(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}
