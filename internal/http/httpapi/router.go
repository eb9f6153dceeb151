package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"worldforge/internal/http/handlers"
	"worldforge/internal/middleware"
)

// Options carries the router-level configuration.
type Options struct {
	AllowedOrigins []string
	DefaultLocale  string
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(app.Logger))
	r.Use(middleware.CORS(opts.AllowedOrigins))
	r.Use(middleware.Identity)
	r.Use(middleware.Locale(opts.DefaultLocale))

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/pipeline", func(r chi.Router) {
		r.Post("/start", app.StartJob)
		r.Get("/{job_id}/status", app.JobStatus)
		r.Post("/{job_id}/cancel", app.CancelJob)
		r.Get("/{job_id}/progress", app.JobProgress)
	})

	return r
}
