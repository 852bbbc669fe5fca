package handler

import (
	"time"

	"github.com/actuallystonmai/material-recommender/internal/domain"
)

type RecommendationResponse struct {
	UserID          string                    `json:"user_id"`
	Recommendations domain.RecommendationSet  `json:"recommendations"`
	Summary         *domain.SetSummary        `json:"summary,omitempty"`
	Metadata        domain.RecommendationMeta `json:"metadata"`
}

type MaterialListResponse struct {
	Results  []domain.RecommendationResult `json:"results"`
	Metadata domain.RecommendationMeta     `json:"metadata"`
}

type EventRequest struct {
	MaterialID string            `json:"material_id"`
	EventType  string            `json:"event_type"`
	Timestamp  *time.Time        `json:"timestamp,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
}

type PersonalizeRequest struct {
	Results []domain.Material `json:"results"`
	Limit   int               `json:"limit,omitempty"`
}

type RefreshRequest struct {
	UserIDs []string `json:"user_ids"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
