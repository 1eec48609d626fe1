// Package api exposes the conversion controller over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"voynich/models"
	"voynich/pipeline"
)

// Conversions is the controller surface the API calls.
type Conversions interface {
	Create(ctx context.Context, req pipeline.CreateRequest) (*models.ConversionJob, error)
	Status(ctx context.Context, id string) (*pipeline.StatusReport, error)
	ListActive(ctx context.Context) ([]pipeline.StatusReport, error)
	Cancel(ctx context.Context, id string) (*models.ConversionJob, error)
}

type VoiceStore interface {
	ListVoices(ctx context.Context) ([]models.VoiceProfile, error)
	CreateVoice(ctx context.Context, v *models.VoiceProfile) error
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Conversions    Conversions
	Voices         VoiceStore
	VoiceDir       string
	OutputDir      string // served under /outputs when set
	Gatherer       prometheus.Gatherer
	Checks         map[string]HealthCheck
	MaxUploadBytes int64
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

func NewRouter(opts Options) http.Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 200 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(opts.RequestTimeout))

	health := &healthHandler{checks: opts.Checks}
	r.Get("/health", health.ServeHTTP)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if opts.OutputDir != "" {
		r.Handle("/outputs/*", http.StripPrefix("/outputs/", http.FileServer(http.Dir(opts.OutputDir))))
	}

	conversions := &conversionHandler{svc: opts.Conversions, maxUpload: opts.MaxUploadBytes, logger: opts.Logger}
	voices := &voiceHandler{store: opts.Voices, dir: opts.VoiceDir, maxUpload: opts.MaxUploadBytes, logger: opts.Logger}

	r.Route("/api", func(r chi.Router) {
		r.Route("/conversion", func(r chi.Router) {
			r.Post("/upload", conversions.Upload)
			r.Get("/status/{id}", conversions.Status)
			r.Get("/active", conversions.Active)
			r.Post("/{id}/cancel", conversions.Cancel)
		})

		if opts.Voices != nil {
			r.Route("/voices", func(r chi.Router) {
				r.Get("/", voices.List)
				r.Post("/", voices.Upload)
			})
		}
	})

	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}

type healthHandler struct {
	checks map[string]HealthCheck
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{"status": "healthy", "service": "voynich"}

	failures := map[string]string{}
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["checks"] = failures
	}
	writeJSON(w, status, body)
}
