// Package smtp implements a mail transport that relays through an SMTP server
// given host, port and optional credentials.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/shineum/mailr/internal/email"
)

const (
	defaultRetryCount = 3
	defaultRetryDelay = 100 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
)

// Config holds the relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// From is used when the composed email carries no sender.
	From string

	InsecureSkipVerify bool
}

// Dialer opens a connection to the relay. *gomail.Dialer satisfies it.
type Dialer interface {
	Dial() (gomail.SendCloser, error)
}

// Provider sends composed emails through an SMTP relay.
type Provider struct {
	dialer     Dialer
	host       string
	from       string
	retryCount int
	retryDelay time.Duration
	log        *slog.Logger
}

// New creates a Provider for the relay described by cfg.
func New(cfg Config) *Provider {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true, ServerName: cfg.Host} //nolint:gosec // opt-in for internal relays
	}

	p := NewWithDialer(cfg.From, d)
	p.host = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return p
}

// NewWithDialer creates a Provider around an existing dialer.
func NewWithDialer(from string, d Dialer) *Provider {
	return &Provider{
		dialer:     d,
		from:       from,
		retryCount: defaultRetryCount,
		retryDelay: defaultRetryDelay,
		log:        slog.Default().With("provider", "smtp"),
	}
}

// Send relays msg, retrying connection and delivery errors with exponential
// backoff.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	m := p.buildMessage(msg)

	var lastErr error
	delay := p.retryDelay

	for attempt := 0; attempt <= p.retryCount; attempt++ {
		if attempt > 0 {
			p.log.DebugContext(ctx, "retrying SMTP delivery", "email_id", msg.ID, "attempt", attempt, "delay", delay)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
			delay = min(delay*2, maxRetryDelay)
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		err := p.deliver(m)
		if err == nil {
			return nil
		}
		lastErr = err
		p.log.WarnContext(ctx, "SMTP delivery failed", "email_id", msg.ID, "host", p.host, "attempt", attempt, "error", err)
	}

	return fmt.Errorf("SMTP delivery failed after %d retries: %w", p.retryCount, lastErr)
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

func (p *Provider) deliver(m *gomail.Message) error {
	sc, err := p.dialer.Dial()
	if err != nil {
		return fmt.Errorf("dialing relay: %w", err)
	}

	if err := gomail.Send(sc, m); err != nil {
		sc.Close()
		return err
	}
	return sc.Close()
}

func (p *Provider) buildMessage(msg *email.Email) *gomail.Message {
	from := msg.From
	if from == "" {
		from = p.from
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To...)
	if len(msg.Cc) > 0 {
		m.SetHeader("Cc", msg.Cc...)
	}
	m.SetHeader("Subject", msg.Subject)
	if msg.ID != "" {
		m.SetHeader("X-Mailr-Id", msg.ID)
	}

	if msg.IsHTML {
		m.SetBody("text/html", msg.Body())
	} else {
		m.SetBody("text/plain", msg.Body())
	}

	for _, att := range msg.Attachments {
		content := att.Content
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
		}
		if att.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {att.ContentType},
			}))
		}
		m.Attach(att.Filename, settings...)
	}

	return m
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
