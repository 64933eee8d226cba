// Package capture buffers a response while the handler runs so that, when the
// handler recorded an email intent, the same bytes can be sent to the client
// and handed to the dispatch orchestrator.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/shineum/mailr/internal/dispatch"
	"github.com/shineum/mailr/internal/intent"
	"github.com/shineum/mailr/internal/metrics"
)

// DispatchHeader reports to the client what happened to the email intent.
const DispatchHeader = "X-Mailr-Dispatch"

// Dispatcher receives the captured body of a response that carried an intent.
type Dispatcher interface {
	Dispatch(ctx context.Context, in intent.Intent, body string) (dispatch.Result, error)
}

// Options configures the middleware.
type Options struct {
	// SendOnFault dispatches a recorded intent even when the handler panicked
	// or answered with a 5xx status.
	SendOnFault bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Middleware captures the downstream response and forwards it, plus any
// recorded intent, to d. The client always receives exactly the bytes the
// handler wrote; email-side failures are logged and never alter them.
func Middleware(d Dispatcher, opts Options) func(http.Handler) http.Handler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "capture")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, slot := intent.WithSlot(r.Context())
			r = r.WithContext(ctx)

			rec := newRecorder(w)
			panicked := serve(next, rec, r, log)
			faulted := panicked || rec.status >= http.StatusInternalServerError

			if in, ok := slot.Load(); ok {
				switch {
				case faulted && !opts.SendOnFault:
					opts.Metrics.EmailSkipped(metrics.ReasonFault)
					log.WarnContext(ctx, "email not sent, request faulted",
						"email_id", in.ID,
						"status", rec.status,
					)
					rec.header.Set(DispatchHeader, "skipped_fault")
				default:
					rec.header.Set(DispatchHeader, forward(ctx, d, in, rec.emailCopy(), log))
				}
			}

			if panicked {
				if v := rec.header.Get(DispatchHeader); v != "" {
					w.Header().Set(DispatchHeader, v)
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if err := rec.replay(w); err != nil {
				log.DebugContext(ctx, "writing captured response", "error", err)
			}
		})
	}
}

// serve runs next against rec and reports whether it panicked.
func serve(next http.Handler, rec *recorder, r *http.Request, log *slog.Logger) (panicked bool) {
	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				panic(v)
			}
			panicked = true
			log.ErrorContext(r.Context(), "handler panicked",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", fmt.Sprint(v),
				"stack", string(debug.Stack()),
			)
		}
	}()

	next.ServeHTTP(rec, r)
	return false
}

// forward hands the email copy to d, isolating the response from anything
// that goes wrong on the email path.
func forward(ctx context.Context, d Dispatcher, in intent.Intent, body string, log *slog.Logger) (outcome string) {
	defer func() {
		if v := recover(); v != nil {
			log.ErrorContext(ctx, "email dispatch panicked",
				"email_id", in.ID,
				"panic", fmt.Sprint(v),
				"stack", string(debug.Stack()),
			)
			outcome = "error"
		}
	}()

	res, err := d.Dispatch(ctx, in, body)
	if err != nil {
		log.ErrorContext(ctx, "email dispatch failed", "email_id", in.ID, "error", err)
		return "error"
	}
	return res.String()
}
