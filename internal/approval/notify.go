package approval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/logging"
)

// ErrNoMailer is returned by RequestApproval when no Mailer is configured.
var ErrNoMailer = errors.New("no mailer configured for approval requests")

var requestTemplate = template.Must(template.New("request").Parse(`<p>An automation rule matched an email and is waiting for your approval.</p>
<p><b>Rule:</b> {{.Batch.RuleID}}<br>
<b>From:</b> {{.Batch.MailSnapshot.From}}<br>
<b>Subject:</b> {{.Batch.MailSnapshot.Subject}}</p>
<p>Planned actions:</p>
<ul>{{range .Batch.Actions}}{{if .Enabled}}
<li>{{.Type}} ({{.ID}})</li>{{end}}{{end}}
</ul>
<p><a href="{{.Token.ApproveURL}}">Approve</a> | <a href="{{.Token.RejectURL}}">Reject</a></p>
<p>The links expire at {{.Token.ExpiresAt.Format "2006-01-02 15:04 MST"}}.</p>
`))

// RequestApproval issues a token for the pending batch and emails the
// approve and reject links to its approver.
func (s *Service) RequestApproval(ctx context.Context, batchID string) error {
	if s.mailer == nil {
		return ErrNoMailer
	}
	if s.baseURL == "" {
		return fmt.Errorf("approval requests need a base URL")
	}

	issued, err := s.Issue(ctx, batchID)
	if err != nil {
		return err
	}
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}

	var body bytes.Buffer
	err = requestTemplate.Execute(&body, struct {
		Batch *automation.Batch
		Token *IssuedToken
	}{batch, issued})
	if err != nil {
		return fmt.Errorf("failed to render approval request: %w", err)
	}

	subject := "Approval needed: " + batch.MailSnapshot.Subject
	if _, err := s.mailer.SendEmail(ctx, automation.OutgoingEmail{
		To:      []string{batch.ApproverEmail},
		Subject: subject,
		Body:    body.String(),
		IsHTML:  true,
	}); err != nil {
		return fmt.Errorf("failed to send approval request for batch %s: %w", batchID, err)
	}

	logging.WithBatch(s.logger, batch.ID, batch.RuleID).Info("Sent approval request",
		logging.UserHash(batch.ApproverEmail),
	)
	return nil
}
