package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/http/handlers"
	"github.com/xtribr/gabaritai-v3-escola-e-enem-sub003/internal/middleware"
)

// Options configures the API router.
type Options struct {
	App             *handlers.App
	Logger          zerolog.Logger
	RateLimitPerMin int
	AllowedOrigins  []string
	// Gatherer feeds /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter wires the scan API. Only the submission endpoint is rate
// limited: polling is cheap and clients poll aggressively by design.
func NewRouter(opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(opts.Logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}

	// Health
	r.Get("/v1/healthz", opts.App.Health)

	r.Get("/v1/openapi.json", opts.App.OpenAPIJSON)
	r.Get("/v1/docs", opts.App.OpenAPIDocs)

	r.Get("/v1/templates", opts.App.TemplatesList)

	r.Route("/v1/scans", func(r chi.Router) {
		limit := opts.RateLimitPerMin
		if limit <= 0 {
			limit = 30
		}
		r.With(middleware.RateLimit(limit, time.Minute)).Post("/", opts.App.ScansCreate)
		r.Get("/{id}", opts.App.ScansStatus)
		r.Get("/{id}/results", opts.App.ScansResults)
		r.Post("/{id}/score", opts.App.ScansScore)
	})

	if opts.Gatherer != nil {
		r.Method(stdhttp.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
