package handler

import (
	"net/http"
)

// POST /cache/refresh
func (h *Handler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}
	if len(req.UserIDs) > 10000 {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Too many user_ids")
		return
	}

	result, err := h.service.RefreshCache(r.Context(), req.UserIDs)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
