// Package stdout implements a development transport that prints each email
// to a writer instead of delivering it.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/mailr/internal/email"
)

const separator = "========================================\n"

// Provider prints composed emails in a human-readable block.
type Provider struct {
	mu     sync.Mutex
	writer io.Writer
}

// New creates a Provider writing to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a Provider writing to w.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send writes msg to the configured writer. Concurrent sends from several
// dispatcher workers never interleave.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder

	b.WriteString(separator)
	if msg.ID != "" {
		fmt.Fprintf(&b, "Id: %s\n", msg.ID)
	}
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Content-Type: %s\n", contentType(msg))
	b.WriteString("Body:\n")
	b.WriteString(msg.Body() + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}
	b.WriteString(separator)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("writing email %s: %w", msg.ID, err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func contentType(msg *email.Email) string {
	if msg.IsHTML {
		return "text/html"
	}
	return "text/plain"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
