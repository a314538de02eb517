package gmail

import "time"

// EmailMessage represents an email to be sent
type EmailMessage struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
	IsHTML  bool
	// InReplyTo is the Message-ID header of the mail being answered.
	InReplyTo string
	// ThreadID places the sent message in an existing thread.
	ThreadID string
}

// Message is the parsed form of a received mail.
type Message struct {
	ID         string
	ThreadID   string
	MessageID  string // RFC 822 Message-ID header
	From       string
	To         []string
	Cc         []string
	Subject    string
	Snippet    string
	Body       string
	Labels     []string
	ReceivedAt time.Time
}
