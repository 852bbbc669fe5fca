package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/actuallystonmai/material-recommender/internal/domain"
	"github.com/actuallystonmai/material-recommender/internal/service"
)

// GET /users/{userID}/recommendations
func (h *Handler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	result, err := h.service.Recommend(r.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeRecommendations(w, userID, result, false)
}

// GET /users/{userID}/recommendations/summary
func (h *Handler) GetRecommendationSummary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	result, err := h.service.Recommend(r.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeRecommendations(w, userID, result, true)
}

// GET /users/{userID}/recommendations/context?season=&device=
func (h *Handler) GetContextRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	rc := domain.RequestContext{
		Season: r.URL.Query().Get("season"),
		Device: r.URL.Query().Get("device"),
	}
	if rc.Season != "" && !validSeason(rc.Season) {
		writeError(w, http.StatusBadRequest, "invalid_parameter", "Invalid season parameter")
		return
	}

	result, err := h.service.RecommendByContext(r.Context(), userID, rc, limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeRecommendations(w, userID, result, false)
}

// GET /users/{userID}/recommendations/category/{category}
func (h *Handler) GetCategoryRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	result, err := h.service.RecommendByCategory(r.Context(), userID, chi.URLParam(r, "category"), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeRecommendations(w, userID, result, false)
}

func (h *Handler) writeRecommendations(w http.ResponseWriter, userID string, result *service.Result, withSummary bool) {
	resp := RecommendationResponse{
		UserID:          userID,
		Recommendations: result.Set,
		Metadata: domain.RecommendationMeta{
			CacheHit:    result.CacheHit,
			GeneratedAt: h.service.GeneratedAt(),
			TotalCount:  result.Set.Len(),
		},
	}
	if withSummary {
		sum := h.service.Summarize(result.Set)
		resp.Summary = &sum
	}
	writeJSON(w, http.StatusOK, resp)
}

func validSeason(s string) bool {
	for _, season := range domain.Seasons {
		if s == season {
			return true
		}
	}
	return false
}
