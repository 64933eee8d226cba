// Package provider defines the mail transport that queued email jobs call.
package provider

import (
	"context"

	"github.com/shineum/mailr/internal/email"
)

// Provider sends a fully composed email. Implementations read their host,
// credentials and sender defaults from configuration at construction time.
type Provider interface {
	// Send delivers msg. A returned error is a transport failure; it is
	// logged by the job and never reaches the HTTP client.
	Send(ctx context.Context, msg *email.Email) error

	// Name identifies the transport in logs and health output.
	Name() string
}
