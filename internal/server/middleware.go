package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/shineum/mailr/internal/logging"
)

// CorrelationHeader carries the id that ties request and background job logs
// together.
const CorrelationHeader = "X-Correlation-ID"

// correlationHeaders are checked in order for an upstream id.
var correlationHeaders = []string{CorrelationHeader, "X-Request-ID"}

// Correlation stores the request's correlation id in its context and echoes it
// in the response. An id is generated when the caller sent none.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		for _, h := range correlationHeaders {
			if v := r.Header.Get(h); v != "" {
				id = v
				break
			}
		}
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
	})
}

// accessLog writes one record per request after it completes.
func accessLog(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			log.Log(r.Context(), level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"elapsed", time.Since(start),
			)
		})
	}
}
