package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/actuallystonmai/material-recommender/internal/handler"
)

func Setup(h *handler.Handler, logger zerolog.Logger, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	// Routes
	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/recommendations", h.GetRecommendations)
		r.Get("/recommendations/summary", h.GetRecommendationSummary)
		r.Get("/recommendations/context", h.GetContextRecommendations)
		r.Get("/recommendations/category/{category}", h.GetCategoryRecommendations)
		r.Get("/profile", h.GetProfile)
		r.Post("/events", h.PostEvent)
		r.Get("/explain/{materialID}", h.GetExplanation)
		r.Post("/search/personalize", h.PersonalizeSearch)
	})
	r.Get("/materials/trending", h.GetTrendingMaterials)
	r.Get("/materials/{materialID}/similar", h.GetSimilarMaterials)
	r.Post("/cache/refresh", h.RefreshCache)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", healthCheck)

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
