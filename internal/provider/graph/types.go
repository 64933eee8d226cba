// Package graph implements a mail transport that sends through the Microsoft
// Graph sendMail API on behalf of an Outlook mailbox.
package graph

import (
	"encoding/base64"

	"github.com/shineum/mailr/internal/email"
)

type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject      string           `json:"subject"`
	Body         messageBody      `json:"body"`
	ToRecipients []recipient      `json:"toRecipients"`
	CcRecipients []recipient      `json:"ccRecipients,omitempty"`
	Attachments  []fileAttachment `json:"attachments,omitempty"`
	Headers      []internetHeader `json:"internetMessageHeaders,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
}

type fileAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType,omitempty"`
	ContentBytes string `json:"contentBytes"`
}

// internetHeader custom headers must start with "x-".
type internetHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func recipients(addrs []string) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, recipient{EmailAddress: emailAddress{Address: addr}})
	}
	return out
}

// buildSendMailRequest converts a composed email into a sendMail body.
func buildSendMailRequest(msg *email.Email) *sendMailRequest {
	body := messageBody{ContentType: "text", Content: msg.Body()}
	if msg.IsHTML {
		body.ContentType = "html"
	}

	attachments := make([]fileAttachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, fileAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	var headers []internetHeader
	if msg.ID != "" {
		headers = append(headers, internetHeader{Name: "x-mailr-id", Value: msg.ID})
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:      msg.Subject,
			Body:         body,
			ToRecipients: recipients(msg.To),
			CcRecipients: recipients(msg.Cc),
			Attachments:  attachments,
			Headers:      headers,
		},
		SaveToSentItems: true,
	}
}
