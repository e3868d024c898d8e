package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func RespondError(w http.ResponseWriter, status int, code, message string) {
	RespondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// PositiveIDParam parses a positive integer URL parameter.
func PositiveIDParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ErrorMapping binds a sentinel error to an HTTP status and error code.
type ErrorMapping struct {
	Err    error
	Status int
	Code   string
}

// RespondMappedError writes the first mapping matching err. Unmatched errors
// are logged and answered with 500.
func RespondMappedError(w http.ResponseWriter, l *zap.Logger, err error, mappings ...ErrorMapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Err) {
			RespondError(w, m.Status, m.Code, err.Error())
			return
		}
	}
	l.Error("request failed", zap.Error(err))
	RespondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

// DecodeJSON decodes the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
