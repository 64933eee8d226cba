// Package dispatch turns a finished response plus its email intent into a
// queued send job.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"mime"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mailr/internal/email"
	"github.com/shineum/mailr/internal/feature"
	"github.com/shineum/mailr/internal/intent"
	"github.com/shineum/mailr/internal/logging"
	"github.com/shineum/mailr/internal/metrics"
	"github.com/shineum/mailr/internal/provider"
	"github.com/shineum/mailr/internal/workqueue"
)

// FallbackFrom is the sender used when neither the intent nor the
// configuration names one.
const FallbackFrom = "unknown@email.com"

// Result reports what Dispatch did with an intent.
type Result int

const (
	Enqueued Result = iota + 1
	SkippedOptOut
)

func (r Result) String() string {
	switch r {
	case Enqueued:
		return "enqueued"
	case SkippedOptOut:
		return "skipped_opt_out"
	default:
		return "unknown"
	}
}

// Queue is the producing side of the work item queue.
type Queue interface {
	Enqueue(job workqueue.Job, tag string)
}

// Config configures an Orchestrator.
type Config struct {
	// DefaultFrom is the configured sender, used when the intent has none.
	DefaultFrom string

	// Gate guards the transport call at execution time. Nil always sends.
	Gate *feature.Gate

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Orchestrator composes emails from intents and hands them to the queue.
type Orchestrator struct {
	queue       Queue
	transport   provider.Provider
	gate        *feature.Gate
	defaultFrom string
	log         *slog.Logger
	metrics     *metrics.Metrics
}

// New creates an Orchestrator that enqueues sends through transport.
func New(queue Queue, transport provider.Provider, cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		queue:       queue,
		transport:   transport,
		gate:        cfg.Gate,
		defaultFrom: cfg.DefaultFrom,
		log:         cfg.Logger.With("component", "dispatch"),
		metrics:     cfg.Metrics,
	}
}

// TransportName names the transport jobs are sent through.
func (o *Orchestrator) TransportName() string {
	return o.transport.Name()
}

// Compose builds the outbound email for in with body as its content. Missing
// optional fields become empty values; a missing subject or a recipient list
// with no non-blank address is a *CompositionError.
func (o *Orchestrator) Compose(in intent.Intent, body string) (*email.Email, error) {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}

	if strings.TrimSpace(in.Subject) == "" {
		return nil, &CompositionError{EmailID: id, Err: ErrNoSubject}
	}
	to := addresses(in.To)
	if len(to) == 0 {
		return nil, &CompositionError{EmailID: id, Err: ErrNoRecipient}
	}

	msg := &email.Email{
		ID:          id,
		From:        o.resolveFrom(in.From),
		To:          to,
		Cc:          addresses(in.Cc),
		Subject:     in.Subject,
		IsHTML:      in.IsHTML,
		Attachments: attachments(in.Attachments),
	}
	if in.IsHTML {
		msg.HtmlBody = body
	} else {
		msg.TextBody = body
	}
	return msg, nil
}

// Dispatch enqueues one send job for in, unless the intent opted out. A
// composition failure is returned to the caller and nothing is enqueued.
// Dispatch never waits for the send itself.
func (o *Orchestrator) Dispatch(ctx context.Context, in intent.Intent, body string) (Result, error) {
	o.metrics.IntentRecognized()
	o.log.InfoContext(ctx, "email intent recognized",
		"email_id", in.ID,
		"from", in.From,
		"to", in.To,
		"subject", in.Subject,
		"is_html", in.IsHTML,
	)

	if !in.CanSend {
		o.metrics.EmailSkipped(metrics.ReasonOptOut)
		o.log.InfoContext(ctx, "email not sent, intent opted out", "email_id", in.ID)
		return SkippedOptOut, nil
	}

	msg, err := o.Compose(in, body)
	if err != nil {
		o.metrics.EmailSkipped(metrics.ReasonComposition)
		o.log.ErrorContext(ctx, "email composition failed", "error", err)
		return 0, err
	}

	tag := fmt.Sprintf("Subject: %s, To: %s", msg.Subject, strings.Join(msg.To, ", "))
	correlationID, _ := logging.CorrelationID(ctx)

	o.queue.Enqueue(o.sendJob(msg, tag, correlationID), tag)
	o.metrics.JobEnqueued()
	o.log.InfoContext(ctx, "email job enqueued", "email_id", msg.ID, "tag", tag)

	return Enqueued, nil
}

// sendJob runs on the dispatcher, outside the request, so it rebuilds its own
// log scope from the values captured at enqueue time.
func (o *Orchestrator) sendJob(msg *email.Email, tag, correlationID string) workqueue.Job {
	log := o.log.With("email_id", msg.ID, "tag", tag, "transport", o.transport.Name())

	return func(ctx context.Context) error {
		if correlationID != "" {
			ctx = logging.WithCorrelationID(ctx, correlationID)
		}

		start := time.Now()
		err := o.gate.Use(ctx, feature.SendEmail, msg.ID, func(ctx context.Context) error {
			return o.transport.Send(ctx, msg)
		})
		elapsed := time.Since(start)

		switch {
		case errors.Is(err, feature.ErrDisabled):
			o.metrics.EmailSkipped(metrics.ReasonGate)
			log.InfoContext(ctx, "send skipped", "reason", err)
			return nil
		case err != nil:
			log.WarnContext(ctx, "send email faulted",
				"from", msg.From,
				"to", msg.To,
				"cc", msg.Cc,
				"subject", msg.Subject,
				"elapsed", elapsed,
				"error", err,
			)
			return fmt.Errorf("sending email %s via %s: %w", msg.ID, o.transport.Name(), err)
		}

		log.InfoContext(ctx, "send email completed", "elapsed", elapsed)
		return nil
	}
}

func (o *Orchestrator) resolveFrom(from string) string {
	switch {
	case from != "":
		return from
	case o.defaultFrom != "":
		return o.defaultFrom
	default:
		return FallbackFrom
	}
}

// addresses returns a trimmed copy of list without blank entries. The result
// is never nil.
func addresses(list []string) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// attachments orders the named attachments by name so the composed message
// is deterministic.
func attachments(named map[string][]byte) []email.Attachment {
	out := make([]email.Attachment, 0, len(named))
	for _, name := range slices.Sorted(maps.Keys(named)) {
		content := named[name]
		out = append(out, email.Attachment{
			Filename:    name,
			ContentType: contentType(name, content),
			Content:     slices.Clone(content),
		})
	}
	return out
}

func contentType(name string, content []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(content)
}
