// Package gmail provides a small client for the Gmail API.
//
// ipdocket reads inbound mail to stage automation batches and sends mail for
// send_email actions. Sent mail cannot be recalled, so nothing here deletes
// messages.
//
// Authentication:
// Tokens come from the google package (see google.StoreTokenProvider).
//
// Example usage:
//
//	client, err := gmail.NewClientForAccountWithProvider(ctx, "default", provider, metrics)
//	if err != nil {
//	    return err
//	}
//	id, err := client.SendEmail(ctx, &gmail.EmailMessage{
//	    To:      []string{"client@example.com"},
//	    Subject: "We received the office action",
//	    Body:    "We will respond before the deadline.",
//	})
package gmail
