package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/mailr/internal/email"
)

const (
	defaultGraphURL = "https://graph.microsoft.com/v1.0"
	tokenURLFormat  = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

	// maxRetries is the maximum number of retry attempts for transient failures.
	maxRetries = 3

	defaultRetryDelay = 1 * time.Second
)

// Config holds the Azure AD application credentials and the default mailbox.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Sender is the mailbox used when the email carries no From address.
	Sender string
}

// Provider sends emails via the Microsoft Graph API using OAuth2 client
// credentials.
type Provider struct {
	sender     string
	graphURL   string
	httpClient *http.Client
	token      *tokenCache
	retryDelay time.Duration
	log        *slog.Logger
}

// New creates a Provider talking to the public Graph endpoints.
func New(cfg Config) *Provider {
	client := &http.Client{Timeout: 30 * time.Second}
	return newWithOverrides(cfg, defaultGraphURL, fmt.Sprintf(tokenURLFormat, cfg.TenantID), client)
}

func newWithOverrides(cfg Config, graphURL, tokenURL string, client *http.Client) *Provider {
	return &Provider{
		sender:     cfg.Sender,
		graphURL:   strings.TrimSuffix(graphURL, "/"),
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		retryDelay: defaultRetryDelay,
		log:        slog.Default().With("provider", "graph"),
	}
}

// Send posts msg to the sendMail endpoint of the sending mailbox. Transient
// failures are retried with exponential backoff, 429 honours Retry-After and
// a 401 triggers a single token refresh.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	from := msg.From
	if from == "" {
		from = p.sender
	}
	if from == "" {
		return &sendError{message: "no sending mailbox configured", permanent: true}
	}

	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return fmt.Errorf("marshalling sendMail request: %w", err)
	}
	endpoint := p.graphURL + "/users/" + url.PathEscape(from) + "/sendMail"

	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			p.log.DebugContext(ctx, "retrying Graph API request", "email_id", msg.ID, "attempt", attempt)
		}

		err := p.doSendRequest(ctx, endpoint, bodyJSON)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *sendError
		if !errors.As(err, &se) {
			return err
		}

		switch {
		case se.permanent:
			return se
		case se.statusCode == http.StatusUnauthorized && !tokenRefreshed:
			p.log.InfoContext(ctx, "refreshing Graph API token after 401", "email_id", msg.ID)
			if _, err := p.token.ForceRefresh(ctx); err != nil {
				return fmt.Errorf("token refresh failed: %w", err)
			}
			tokenRefreshed = true
		case se.statusCode == http.StatusTooManyRequests:
			delay := p.retryAfterDelay(se.retryAfter, attempt)
			p.log.InfoContext(ctx, "rate limited by Graph API", "email_id", msg.ID, "retry_after", delay)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		case se.transient:
			delay := backoffDelay(p.retryDelay, attempt)
			p.log.InfoContext(ctx, "transient Graph API error, retrying", "email_id", msg.ID, "status", se.statusCode, "delay", delay)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		default:
			return se
		}
	}

	return fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, lastErr)
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "graph"
}

func (p *Provider) doSendRequest(ctx context.Context, endpoint string, bodyJSON []byte) error {
	token, err := p.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("getting access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &sendError{message: fmt.Sprintf("HTTP request failed: %v", err), transient: true}
	}
	defer resp.Body.Close()

	// sendMail answers 202 Accepted
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	retryAfter := resp.Header.Get("Retry-After")

	var ger graphErrorResponse
	if err := json.Unmarshal(body, &ger); err == nil && ger.Error.Message != "" {
		return classifyError(resp.StatusCode, ger.Error.Message, retryAfter)
	}
	return classifyError(resp.StatusCode, string(body), retryAfter)
}

// sendError is a Graph API failure classified for the retry loop.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}
	return err
}

// retryAfterDelay prefers the Retry-After seconds value and falls back to
// exponential backoff.
func (p *Provider) retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return backoffDelay(p.retryDelay, attempt)
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << attempt
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
