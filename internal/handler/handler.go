package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/actuallystonmai/material-recommender/internal/domain"
	"github.com/actuallystonmai/material-recommender/internal/service"
)

const (
	defaultLimit = 10
	maxLimit     = 50
	maxBodyBytes = 1 << 20
)

type Handler struct {
	service *service.Service
	logger  zerolog.Logger
}

func NewHandler(svc *service.Service, logger zerolog.Logger) *Handler {
	return &Handler{service: svc, logger: logger.With().Str("component", "handler").Logger()}
}

// write JSON response
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writes JSON error response.
func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}

// writeServiceError maps an engine error onto an HTTP status.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := service.CategorizeError(err)
	status := http.StatusInternalServerError
	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case domain.IsNotFound(err):
		status = http.StatusNotFound
	case domain.IsTimeout(err), errors.Is(err, domain.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Str("code", code).Msg("request failed")
	}
	writeError(w, status, code, msg)
}

// parseLimit reads the limit query parameter. ok is false when a response
// has already been written.
func parseLimit(w http.ResponseWriter, r *http.Request) (limit int, ok bool) {
	limit = defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > maxLimit {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid limit parameter")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Request body is not valid JSON: "+err.Error())
		return false
	}
	return true
}
