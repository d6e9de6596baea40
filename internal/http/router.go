package http

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"censord/internal/http/handlers"
	"censord/internal/infra"
	"censord/internal/middleware"
)

// NewRouter mounts the synchronous surface and the realtime channel endpoint
// on one chi router.
func NewRouter(app *handlers.App, realtime stdhttp.Handler, cfg *infra.Config, logger infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/queue/stats", app.QueueStats)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logger(logger))
		r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
		r.Post("/v1/censor", app.Censor)
		r.Post("/v1/cancel", app.CancelJobs)
	})

	r.Route("/v1/assets", func(r chi.Router) {
		r.Get("/categories", app.AssetCategories)
		r.Get("/{category}", app.AssetImages)
	})

	r.Handle("/ws", realtime)

	return r
}
