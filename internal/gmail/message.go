package gmail

import (
	"encoding/base64"
	"mime"
	"net/mail"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"
)

// HeaderValue extracts a header value from a Gmail message
func HeaderValue(m *gmail.Message, header string) string {
	if m == nil || m.Payload == nil {
		return ""
	}
	for _, mph := range m.Payload.Headers {
		if strings.EqualFold(mph.Name, header) {
			return mph.Value
		}
	}
	return ""
}

// parseMessage converts a full-format API message.
func parseMessage(m *gmail.Message) *Message {
	msg := &Message{
		ID:        m.Id,
		ThreadID:  m.ThreadId,
		MessageID: HeaderValue(m, "Message-ID"),
		From:      decodeHeader(HeaderValue(m, "From")),
		To:        splitAddressList(HeaderValue(m, "To")),
		Cc:        splitAddressList(HeaderValue(m, "Cc")),
		Subject:   decodeHeader(HeaderValue(m, "Subject")),
		Snippet:   m.Snippet,
		Labels:    m.LabelIds,
		Body:      extractBody(m.Payload, "text/plain"),
	}
	if msg.Body == "" {
		msg.Body = extractBody(m.Payload, "text/html")
	}
	if m.InternalDate > 0 {
		msg.ReceivedAt = time.UnixMilli(m.InternalDate).UTC()
	}
	return msg
}

// extractBody returns the first part of mimeType, decoded.
func extractBody(part *gmail.MessagePart, mimeType string) string {
	var data string
	walkParts(part, func(p *gmail.MessagePart) {
		if data == "" && p.MimeType == mimeType && p.Body != nil && p.Body.Data != "" {
			data = p.Body.Data
		}
	})
	if data == "" {
		return ""
	}

	decoded, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		// Gmail sometimes omits padding
		decoded, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(decoded)
}

// walkParts recursively walks through message parts
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, subpart := range part.Parts {
		walkParts(subpart, fn)
	}
}

func splitAddressList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	if addrs, err := mail.ParseAddressList(v); err == nil {
		out := make([]string, 0, len(addrs))
		for _, a := range addrs {
			out = append(out, a.Address)
		}
		return out
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func decodeHeader(v string) string {
	dec := new(mime.WordDecoder)
	if s, err := dec.DecodeHeader(v); err == nil {
		return s
	}
	return v
}

// encodeRFC2047 encodes a string for use in email headers according to RFC 2047
// This is necessary for non-ASCII characters (like German umlauts) in subjects
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}

// buildRawMessage renders msg in RFC 2822 format, base64url encoded.
func buildRawMessage(msg *EmailMessage, body string) string {
	var b strings.Builder

	writeHeader := func(name, value string) {
		if value == "" {
			return
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}

	writeHeader("To", strings.Join(msg.To, ", "))
	writeHeader("Cc", strings.Join(msg.Cc, ", "))
	writeHeader("Bcc", strings.Join(msg.Bcc, ", "))
	writeHeader("Subject", encodeRFC2047(msg.Subject))
	if msg.InReplyTo != "" {
		writeHeader("In-Reply-To", msg.InReplyTo)
		writeHeader("References", msg.InReplyTo)
	}
	if msg.IsHTML {
		writeHeader("Content-Type", `text/html; charset="UTF-8"`)
	} else {
		writeHeader("Content-Type", `text/plain; charset="UTF-8"`)
	}
	writeHeader("MIME-Version", "1.0")
	b.WriteString("\r\n")
	b.WriteString(body)

	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}
