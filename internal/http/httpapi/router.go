package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"upscaler/internal/http/handlers"
	"upscaler/internal/metrics"
	mw "upscaler/internal/middleware"
)

// Options configures the router's middleware stack.
type Options struct {
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
	Verifier        *mw.Verifier
	AllowedOrigins  []string
	RateLimitPerMin int
	SessionTTL      time.Duration
	SecureCookies   bool
	// StaticDir, when set, is served under /static for the filesystem blob store.
	StaticDir string
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		mw.RequestID(opts.Logger),
		chimw.RealIP,
		chimw.Recoverer,
		mw.Logger(opts.Logger),
		mw.CORS(opts.AllowedOrigins),
	)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Instrument)
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Get("/v1/healthz", app.Health)
	r.Get(handlers.OpenAPIPath, app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	r.Get("/v1/previews/{ref}", app.Preview)
	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit(opts.RateLimitPerMin, time.Minute))
		r.Use(mw.Auth(opts.Verifier))

		r.Get("/v1/me", app.Me)

		r.Route("/v1/upscale", func(r chi.Router) {
			r.Use(mw.Session(opts.SessionTTL, opts.SecureCookies))
			r.Get("/", app.UpscaleSnapshot)
			r.Post("/file", app.UpscaleSelectFile)
			r.Get("/options", app.UpscaleOptions)
			r.Put("/options", app.UpscaleChooseOptions)
			r.Post("/submit", app.UpscaleSubmit)
			r.Post("/reset", app.UpscaleReset)
			r.Post("/paywall/dismiss", app.UpscaleDismissPaywall)
			r.Get("/download", app.UpscaleDownload)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireUser)
			r.Post("/v1/uploads", app.UploadCreate)
			r.Delete("/v1/uploads", app.UploadDelete)
			r.Get("/v1/jobs", app.JobsList)
			r.Get("/v1/jobs/archive", app.JobsArchive)
			r.Delete("/v1/jobs/{id}", app.JobsDelete)
		})
	})

	return r
}
