package gmail

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/teemow/ipdocket/internal/google"
	"github.com/teemow/ipdocket/internal/instrumentation"
)

// Client wraps the Gmail Users service
type Client struct {
	svc       *gmail.UsersService
	signature string // Cached signature for this account
	metrics   *instrumentation.Metrics
}

// NewClientForAccountWithProvider creates a Gmail client for account using
// tokens from provider.
func NewClientForAccountWithProvider(ctx context.Context, account string, provider google.TokenProvider, metrics *instrumentation.Metrics) (*Client, error) {
	httpClient, err := google.HTTPClient(ctx, provider, account)
	if err != nil {
		return nil, fmt.Errorf("no valid Google OAuth token found for account %s: %w", account, err)
	}
	return NewClientWithHTTPClient(ctx, httpClient, metrics)
}

// NewClientWithHTTPClient creates a Gmail client on an authenticated HTTP client.
func NewClientWithHTTPClient(ctx context.Context, httpClient *http.Client, metrics *instrumentation.Metrics, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Client{
		svc:     svc.Users,
		metrics: metrics,
	}, nil
}

func (c *Client) record(ctx context.Context, operation string, start time.Time, err error) {
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, operation, status, time.Since(start))
}

// GetMessage retrieves and parses a full Gmail message
func (c *Client) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	if messageID == "" {
		return nil, fmt.Errorf("messageID is required")
	}

	start := time.Now()
	msg, err := c.svc.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	c.record(ctx, instrumentation.OperationGet, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	return parseMessage(msg), nil
}

// ListMessages returns up to maxResults messages matching the Gmail search
// query, newest first.
func (c *Client) ListMessages(ctx context.Context, query string, maxResults int64) ([]*Message, error) {
	start := time.Now()
	call := c.svc.Messages.List("me").Q(query).Context(ctx)
	if maxResults > 0 {
		call = call.MaxResults(maxResults)
	}
	list, err := call.Do()
	c.record(ctx, instrumentation.OperationList, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]*Message, 0, len(list.Messages))
	for _, m := range list.Messages {
		msg, err := c.GetMessage(ctx, m.Id)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// GetSignature fetches the user's Gmail signature (primary send-as address).
// A failure to fetch it yields an empty signature.
func (c *Client) GetSignature(ctx context.Context) string {
	if c.signature != "" {
		return c.signature
	}

	sendAs, err := c.svc.Settings.SendAs.Get("me", "me").Context(ctx).Do()
	if err != nil {
		return ""
	}
	c.signature = sendAs.Signature
	return c.signature
}

// appendSignature adds the user's signature to the email body
func (c *Client) appendSignature(ctx context.Context, body string, isHTML bool) string {
	signature := c.GetSignature(ctx)
	if signature == "" {
		return body
	}
	if isHTML {
		return body + "<br><br>-- <br>" + signature
	}
	return body + "\n\n-- \n" + signature
}

// SendEmail sends an email through Gmail API and returns the message id.
func (c *Client) SendEmail(ctx context.Context, msg *EmailMessage) (string, error) {
	if len(msg.To) == 0 {
		return "", fmt.Errorf("at least one recipient is required")
	}
	if msg.Subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	if msg.Body == "" {
		return "", fmt.Errorf("body is required")
	}

	gmailMsg := &gmail.Message{
		Raw:      buildRawMessage(msg, c.appendSignature(ctx, msg.Body, msg.IsHTML)),
		ThreadId: msg.ThreadID,
	}

	start := time.Now()
	sent, err := c.svc.Messages.Send("me", gmailMsg).Context(ctx).Do()
	c.record(ctx, instrumentation.OperationSend, start, err)
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	return sent.Id, nil
}
