package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipscribe/backend/internal/api/handlers"
	"github.com/clipscribe/backend/internal/api/middleware"
	"github.com/clipscribe/backend/internal/auth"
	"github.com/clipscribe/backend/internal/captions"
	"github.com/clipscribe/backend/internal/config"
	"github.com/clipscribe/backend/internal/db"
	"github.com/clipscribe/backend/internal/gemini"
	"github.com/clipscribe/backend/internal/job"
	"github.com/clipscribe/backend/internal/transcribe"
)

func NewRouter(database *db.Database, jwtService *auth.JWTService, cfg *config.Config, jobQueue *job.JobQueue, service *transcribe.Service, client *gemini.Client, remote captions.Fetcher) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(middleware.CORSHandler(cfg.CORSOrigins)))

	// Handlers
	authHandler := handlers.NewAuthHandler(database, jwtService)
	transcriptionsHandler := handlers.NewTranscriptionsHandler(jobQueue, service, remote, database, cfg)
	jobHandler := handlers.NewJobHandler(jobQueue)
	modelsHandler := handlers.NewModelsHandler(client)
	settingsHandler := handlers.NewSettingsHandler(database)

	loginLimiter := middleware.NewRateLimiter(10, time.Minute)

	// Operational endpoints (public)
	r.Get("/healthz", handlers.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		// Auth (public, rate limited)
		r.With(loginLimiter.Handler, middleware.MaxBodySize(1<<20)).Post("/auth/login", authHandler.Login)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(jwtService))

			// Auth
			r.Get("/auth/me", authHandler.Me)

			// Transcriptions
			r.Post("/transcriptions", transcriptionsHandler.Create)

			// Jobs
			r.Get("/jobs", jobHandler.ListJobs)
			r.Get("/jobs/{id}", jobHandler.GetJob)
			r.Get("/jobs/{id}/events", jobHandler.ListEvents)
			r.Get("/jobs/{id}/transcript", jobHandler.Transcript)
			r.Post("/jobs/{id}/cancel", jobHandler.CancelJob)
			r.Post("/jobs/{id}/retry", jobHandler.RetryJob)
			r.Delete("/jobs/{id}", jobHandler.DeleteJob)

			// Models
			r.Get("/models", modelsHandler.ListModels)

			// Settings
			r.Get("/settings", settingsHandler.GetSettings)
			r.With(middleware.RequireRole("admin")).Put("/settings", settingsHandler.UpdateSettings)
		})
	})

	return r
}
