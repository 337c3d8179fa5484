package dto

import "time"

// SendEmailRequest follows the Resend send shape.
type SendEmailRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Cc      []string          `json:"cc,omitempty"`
	Bcc     []string          `json:"bcc,omitempty"`
	ReplyTo string            `json:"replyTo,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type SendEmailResponse struct {
	ID string `json:"id"`
}

type BatchItemResponse struct {
	ID    string     `json:"id,omitempty"`
	Error *ErrorInfo `json:"error,omitempty"`
}

type BatchSendResponse struct {
	Data []BatchItemResponse `json:"data"`
}

type EmailResponse struct {
	ID        string            `json:"id"`
	From      string            `json:"from"`
	To        []string          `json:"to"`
	Cc        []string          `json:"cc,omitempty"`
	Bcc       []string          `json:"bcc,omitempty"`
	ReplyTo   string            `json:"replyTo,omitempty"`
	Subject   string            `json:"subject"`
	HTML      string            `json:"html,omitempty"`
	Text      string            `json:"text,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

type EmailListResponse struct {
	Emails     []EmailResponse `json:"emails"`
	NextCursor string          `json:"nextCursor,omitempty"`
}
