// Package server exposes the HTTP surface: the message endpoints whose
// responses may also be emailed, plus health and metrics.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shineum/mailr/internal/capture"
)

// Deps wires the router to the rest of the service.
type Deps struct {
	// Dispatcher receives captured responses that carried an email intent.
	Dispatcher capture.Dispatcher
	Capture    capture.Options

	// Transport names the configured mail transport for /healthz.
	Transport       string
	QueueDepth      func() int
	DispatcherState func() string

	// Metrics serves /metrics. Nil leaves the route unregistered.
	Metrics http.Handler

	Logger *slog.Logger
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps) (http.Handler, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if deps.Capture.Logger == nil {
		deps.Capture.Logger = log
	}

	v, err := loadViews()
	if err != nil {
		return nil, err
	}
	msgs := &messages{views: v, log: log.With("component", "messages")}

	r := chi.NewRouter()
	r.Use(Correlation)
	r.Use(accessLog(log.With("component", "http")))

	r.Get("/healthz", health(deps))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/mailr/messages", func(r chi.Router) {
		r.Use(capture.Middleware(deps.Dispatcher, deps.Capture))

		r.Get("/plaintext", msgs.plainTextPreview)
		r.Post("/plaintext", msgs.plainText)
		r.Get("/test", msgs.testPreview)
		r.Post("/test", msgs.test)
	})

	return otelhttp.NewHandler(r, "mailr",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	), nil
}
