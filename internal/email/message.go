// Package email defines the outbound email model handed to mail transports.
package email

// Email represents a fully composed message ready for a transport.
type Email struct {
	// ID identifies the email across logs and feature-gate identities.
	ID          string
	From        string
	To          []string
	Cc          []string
	Subject     string
	IsHTML      bool
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Body returns whichever body the message carries, HTML first.
func (e *Email) Body() string {
	if e.HtmlBody != "" {
		return e.HtmlBody
	}
	return e.TextBody
}
