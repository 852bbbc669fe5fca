package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/actuallystonmai/material-recommender/internal/domain"
)

// GET /materials/{materialID}/similar
func (h *Handler) GetSimilarMaterials(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	results, err := h.service.SimilarMaterials(r.Context(), chi.URLParam(r, "materialID"), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.materialList(results))
}

// GET /materials/trending?grade=&category=
func (h *Handler) GetTrendingMaterials(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	results, err := h.service.TrendingMaterials(r.Context(), q.Get("grade"), q.Get("category"), limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.materialList(results))
}

func (h *Handler) materialList(results []domain.RecommendationResult) MaterialListResponse {
	return MaterialListResponse{
		Results: results,
		Metadata: domain.RecommendationMeta{
			GeneratedAt: h.service.GeneratedAt(),
			TotalCount:  len(results),
		},
	}
}
