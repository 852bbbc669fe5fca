package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/actuallystonmai/material-recommender/internal/domain"
)

// GET /users/{userID}/profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetProfile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /users/{userID}/events
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !decodeBody(w, r, &req) {
		return
	}

	e := domain.InteractionEvent{
		UserID:     chi.URLParam(r, "userID"),
		MaterialID: req.MaterialID,
		EventType:  domain.EventType(req.EventType),
		Payload:    req.Payload,
	}
	if req.Timestamp != nil {
		e.Timestamp = req.Timestamp.UTC()
	} else {
		e.Timestamp = h.service.Now()
	}

	p, err := h.service.UpdateUserProfile(r.Context(), e)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /users/{userID}/explain/{materialID}
func (h *Handler) GetExplanation(w http.ResponseWriter, r *http.Request) {
	exp, err := h.service.Explain(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "materialID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// POST /users/{userID}/search/personalize
func (h *Handler) PersonalizeSearch(w http.ResponseWriter, r *http.Request) {
	var req PersonalizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Limit < 0 || req.Limit > maxLimit {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid limit parameter")
		return
	}

	results, err := h.service.PersonalizeSearchResults(r.Context(), chi.URLParam(r, "userID"), req.Results, req.Limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.materialList(results))
}
