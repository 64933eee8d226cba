package ses

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/shineum/mailr/internal/email"
	"github.com/shineum/mailr/internal/logging"
	"github.com/shineum/mailr/internal/provider"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func newTestProvider(client SendEmailAPI) *Provider {
	p := NewWithClient("default@example.com", client)
	p.retryDelay = time.Millisecond
	return p
}

var _ provider.Provider = (*Provider)(nil)

func TestName(t *testing.T) {
	t.Parallel()
	p := newTestProvider(&mockSESClient{})
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_PlainTextEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock)

	msg := &email.Email{
		ID:       "id-1",
		From:     "reports@example.com",
		To:       []string{"to@example.com"},
		Subject:  "Test Subject",
		TextBody: "Hello, World!",
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}

	input := mock.lastInput
	if input.Content.Simple == nil {
		t.Fatal("expected simple email content, got nil")
	}
	if got := *input.FromEmailAddress; got != "reports@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "reports@example.com")
	}
	if got := *input.Content.Simple.Subject.Data; got != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", got, "Test Subject")
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "Hello, World!" {
		t.Errorf("TextBody: got %q, want %q", got, "Hello, World!")
	}
	if input.Content.Simple.Body.Html != nil {
		t.Error("expected no HTML body")
	}
}

func TestSend_HTMLEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock)

	msg := &email.Email{
		From:     "reports@example.com",
		To:       []string{"to@example.com"},
		Subject:  "HTML Test",
		IsHTML:   true,
		HtmlBody: "<h1>Hello</h1>",
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := mock.lastInput.Content.Simple.Body
	if body.Html == nil || *body.Html.Data != "<h1>Hello</h1>" {
		t.Errorf("HtmlBody: got %+v, want %q", body.Html, "<h1>Hello</h1>")
	}
	if body.Text != nil {
		t.Error("expected no text body for an HTML email")
	}
}

func TestSend_FallsBackToConfiguredSender(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock)

	err := p.Send(context.Background(), &email.Email{
		To:       []string{"to@example.com"},
		Subject:  "No from",
		TextBody: "x",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *mock.lastInput.FromEmailAddress; got != "default@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "default@example.com")
	}
}

func TestSend_WithRecipients(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock)

	msg := &email.Email{
		To:       []string{"to1@example.com", "to2@example.com"},
		Cc:       []string{"cc@example.com"},
		Subject:  "Multi-recipient",
		TextBody: "Hello",
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dest := mock.lastInput.Destination
	if len(dest.ToAddresses) != 2 {
		t.Errorf("ToAddresses: got %d, want 2", len(dest.ToAddresses))
	}
	if len(dest.CcAddresses) != 1 {
		t.Errorf("CcAddresses: got %d, want 1", len(dest.CcAddresses))
	}
}

func TestSend_WithAttachments(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := newTestProvider(mock)

	msg := &email.Email{
		From:     "reports@example.com",
		To:       []string{"to@example.com"},
		Subject:  "With Attachment",
		TextBody: "See attachment",
		Attachments: []email.Attachment{
			{Filename: "test.txt", ContentType: "text/plain", Content: []byte("file content")},
		},
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mock.lastInput
	if input.Content.Raw == nil {
		t.Fatal("expected raw email content for attachment, got nil")
	}
	if input.Content.Simple != nil {
		t.Error("expected no simple content when using raw message")
	}

	rawStr := string(input.Content.Raw.Data)
	for _, want := range []string{"From: reports@example.com", "To: to@example.com", "multipart/mixed", "test.txt"} {
		if !strings.Contains(rawStr, want) {
			t.Errorf("raw message missing %q", want)
		}
	}
}

func TestSend_RetryOnError(t *testing.T) {
	t.Parallel()

	calls := 0
	mock := &mockSESClient{
		sendFn: func(context.Context, *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
			calls++
			if calls <= 2 {
				return nil, errors.New("throttled")
			}
			return &sesv2.SendEmailOutput{MessageId: aws.String("ok")}, nil
		},
	}
	p := newTestProvider(mock)

	err := p.Send(context.Background(), &email.Email{To: []string{"to@example.com"}, Subject: "Retry", TextBody: "x"})
	if err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	if calls != 3 {
		t.Errorf("call count: got %d, want 3", calls)
	}
}

func TestSend_ErrorLogCarriesCorrelationID(t *testing.T) {
	t.Parallel()

	calls := 0
	mock := &mockSESClient{
		sendFn: func(context.Context, *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("throttled")
			}
			return &sesv2.SendEmailOutput{MessageId: aws.String("ok")}, nil
		},
	}
	var buf bytes.Buffer
	p := newTestProvider(mock)
	p.log = slog.New(logging.NewContextHandler(slog.NewTextHandler(&buf, nil), logging.CorrelationIDExtractor))

	ctx := logging.WithCorrelationID(context.Background(), "corr-ses")
	if err := p.Send(ctx, &email.Email{To: []string{"to@example.com"}, Subject: "s", TextBody: "x"}); err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "SES API error") || !strings.Contains(out, "correlation_id=corr-ses") {
		t.Errorf("error record missing correlation id:\n%s", out)
	}
}

func TestSend_AllRetriesExhausted(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(context.Context, *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("persistent error")
		},
	}
	p := newTestProvider(mock)

	err := p.Send(context.Background(), &email.Email{To: []string{"to@example.com"}, Subject: "Fail", TextBody: "x"})
	if err == nil {
		t.Fatal("expected error after all retries exhausted")
	}
	if !strings.Contains(err.Error(), "after 3 retries") {
		t.Errorf("error message: got %q, want to contain 'after 3 retries'", err.Error())
	}
	// 1 initial + 3 retries
	if mock.callCount != 4 {
		t.Errorf("call count: got %d, want 4", mock.callCount)
	}
}

func TestSend_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(context.Context, *sesv2.SendEmailInput) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("error")
		},
	}
	p := NewWithClient("default@example.com", mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Send(ctx, &email.Email{To: []string{"to@example.com"}, Subject: "Cancel", TextBody: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Send: got %v, want context.Canceled", err)
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
}

func TestBuildRawMessage(t *testing.T) {
	t.Parallel()

	msg := &email.Email{
		ID:       "msg-123",
		To:       []string{"to@example.com"},
		Cc:       []string{"cc@example.com"},
		Subject:  "Raw Test",
		TextBody: "text body",
		Attachments: []email.Attachment{
			{Filename: "doc.pdf", ContentType: "application/pdf", Content: []byte("pdf content")},
			{Filename: "blob", Content: []byte{0x01}},
		},
	}

	raw, err := buildRawMessage("sender@example.com", msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rawStr := string(raw)
	checks := []struct {
		name     string
		contains string
	}{
		{"From header", "From: sender@example.com"},
		{"To header", "To: to@example.com"},
		{"Cc header", "Cc: cc@example.com"},
		{"Subject header", "Subject: Raw Test"},
		{"id header", "X-Mailr-Id: msg-123"},
		{"MIME-Version", "MIME-Version: 1.0"},
		{"multipart boundary", "multipart/mixed"},
		{"body content type", "text/plain; charset=UTF-8"},
		{"attachment content type", "application/pdf"},
		{"default content type", "application/octet-stream"},
		{"attachment filename", "doc.pdf"},
		{"base64 encoding", "Content-Transfer-Encoding: base64"},
	}

	for _, check := range checks {
		if !strings.Contains(rawStr, check.contains) {
			t.Errorf("raw message missing %s: expected to contain %q", check.name, check.contains)
		}
	}
}

func TestBuildRawMessage_HTMLBody(t *testing.T) {
	t.Parallel()

	msg := &email.Email{
		To:       []string{"to@example.com"},
		Subject:  "HTML Raw",
		IsHTML:   true,
		HtmlBody: "<h1>Hello</h1>",
		Attachments: []email.Attachment{
			{Filename: "a.txt", ContentType: "text/plain", Content: []byte("x")},
		},
	}

	raw, err := buildRawMessage("sender@example.com", msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(raw), "text/html; charset=UTF-8") {
		t.Error("expected text/html content type for HTML body")
	}
}

func TestEncodeBase64WithLineBreaks(t *testing.T) {
	t.Parallel()

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}

	lines := strings.Split(encodeBase64WithLineBreaks(data), "\r\n")
	for i, line := range lines {
		if i < len(lines)-1 && len(line) != 76 {
			t.Errorf("line %d length: got %d, want 76", i, len(line))
		}
		if len(line) > 76 {
			t.Errorf("line %d exceeds 76 chars: got %d", i, len(line))
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(time.Second, tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d): got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
