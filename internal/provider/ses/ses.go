// Package ses implements a mail transport backed by AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mailr/internal/email"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// defaultRetryDelay is the initial delay for exponential backoff.
const defaultRetryDelay = 1 * time.Second

// Config holds the settings for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// Sender is used when the composed email carries no From address.
	Sender string
}

// SendEmailAPI is the subset of the SES v2 client used by the provider.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends emails via the AWS SES v2 API.
type Provider struct {
	sender     string
	client     SendEmailAPI
	retryDelay time.Duration
	log        *slog.Logger
}

// New creates a Provider using the default AWS credential chain, or static
// credentials when both keys are set.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Provider around an existing SES client.
func NewWithClient(sender string, client SendEmailAPI) *Provider {
	return &Provider{
		sender:     sender,
		client:     client,
		retryDelay: defaultRetryDelay,
		log:        slog.Default().With("provider", "ses"),
	}
}

// Send delivers msg, retrying failed API calls with exponential backoff.
// Messages with attachments are sent as raw MIME.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	from := msg.From
	if from == "" {
		from = p.sender
	}

	var input *sesv2.SendEmailInput
	if len(msg.Attachments) > 0 {
		raw, err := buildRawMessage(from, msg)
		if err != nil {
			return fmt.Errorf("building raw message: %w", err)
		}
		input = &sesv2.SendEmailInput{
			FromEmailAddress: aws.String(from),
			Destination:      destination(msg),
			Content: &types.EmailContent{
				Raw: &types.RawMessage{Data: raw},
			},
		}
	} else {
		input = buildSimpleInput(from, msg)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			p.log.DebugContext(ctx, "retrying SES API request", "email_id", msg.ID, "attempt", attempt)
			if err := sleepWithContext(ctx, backoffDelay(p.retryDelay, attempt)); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		_, err := p.client.SendEmail(ctx, input)
		if err == nil {
			return nil
		}
		lastErr = err
		p.log.WarnContext(ctx, "SES API error", "email_id", msg.ID, "attempt", attempt, "error", err)
	}

	return fmt.Errorf("SES API request failed after %d retries: %w", maxRetries, lastErr)
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

func destination(msg *email.Email) *types.Destination {
	return &types.Destination{
		ToAddresses: msg.To,
		CcAddresses: msg.Cc,
	}
}

// buildSimpleInput creates a SES SendEmailInput for emails without attachments.
func buildSimpleInput(from string, msg *email.Email) *sesv2.SendEmailInput {
	content := &types.Content{
		Data:    aws.String(msg.Body()),
		Charset: aws.String("UTF-8"),
	}

	body := &types.Body{}
	if msg.IsHTML {
		body.Html = content
	} else {
		body.Text = content
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      destination(msg),
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(msg.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: body,
			},
		},
	}
}

// buildRawMessage constructs a multipart/mixed MIME message for emails with
// attachments.
func buildRawMessage(from string, msg *email.Email) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	if len(msg.To) > 0 {
		fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	}
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	if msg.ID != "" {
		fmt.Fprintf(&buf, "X-Mailr-Id: %s\r\n", msg.ID)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	bodyHeader := make(textproto.MIMEHeader)
	if msg.IsHTML {
		bodyHeader.Set("Content-Type", "text/html; charset=UTF-8")
	} else {
		bodyHeader.Set("Content-Type", "text/plain; charset=UTF-8")
	}
	part, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("creating body part: %w", err)
	}
	if _, err := part.Write([]byte(msg.Body())); err != nil {
		return nil, fmt.Errorf("writing body part: %w", err)
	}

	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", contentType)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%s", mime.QEncoding.Encode("UTF-8", att.Filename)))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("creating attachment part: %w", err)
		}
		if _, err := part.Write([]byte(encodeBase64WithLineBreaks(att.Content))); err != nil {
			return nil, fmt.Errorf("writing attachment %s: %w", att.Filename, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}

// backoffDelay doubles base once per attempt.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << attempt
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
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
