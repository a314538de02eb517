package automation

import (
	"bytes"
	"context"
	"fmt"

	"github.com/teemow/ipdocket/internal/calendar"
	"github.com/teemow/ipdocket/internal/drive"
	"github.com/teemow/ipdocket/internal/gmail"
)

// GmailMailer sends automation mail through a Gmail client.
type GmailMailer struct {
	Client *gmail.Client
}

// SendEmail implements Mailer.
func (m GmailMailer) SendEmail(ctx context.Context, msg OutgoingEmail) (string, error) {
	return m.Client.SendEmail(ctx, &gmail.EmailMessage{
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		Subject: msg.Subject,
		Body:    msg.Body,
		IsHTML:  msg.IsHTML,
	})
}

// GoogleCalendar creates and deletes events through a Calendar client.
type GoogleCalendar struct {
	Client *calendar.Client
}

// CreateEvent implements CalendarService.
func (c GoogleCalendar) CreateEvent(ctx context.Context, calendarID string, ev EventSpec) (string, error) {
	created, err := c.Client.CreateEvent(ctx, calendarID, calendar.EventInput{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       ev.Start,
		End:         ev.End,
		TimeZone:    ev.TimeZone,
		Attendees:   ev.Attendees,
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// DeleteEvent implements CalendarService.
func (c GoogleCalendar) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	return c.Client.DeleteEvent(ctx, calendarID, eventID)
}

// DriveFiles stores files in Google Drive.
type DriveFiles struct {
	Client *drive.Client
}

// Upload implements FileStore. A named folder is looked up and created when
// missing; created folders are not removed by Delete.
func (d DriveFiles) Upload(ctx context.Context, f FileSpec) (string, error) {
	opts := &drive.UploadOptions{
		Description: f.Description,
		MimeType:    f.MimeType,
	}
	folderID, err := d.folder(ctx, f)
	if err != nil {
		return "", err
	}
	if folderID != "" {
		opts.ParentFolders = []string{folderID}
	}
	info, err := d.Client.UploadFile(ctx, f.Name, bytes.NewReader(f.Content), opts)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (d DriveFiles) folder(ctx context.Context, f FileSpec) (string, error) {
	switch {
	case f.FolderID != "":
		info, err := d.Client.GetFile(ctx, f.FolderID)
		if err != nil {
			return "", err
		}
		if info.MimeType != drive.FolderMimeType || info.Trashed {
			return "", fmt.Errorf("%s is not a folder in Drive", f.FolderID)
		}
		return info.ID, nil
	case f.FolderName != "":
		info, err := d.Client.FindFolder(ctx, f.FolderName, "")
		if err != nil {
			return "", err
		}
		if info == nil {
			if info, err = d.Client.CreateFolder(ctx, f.FolderName, nil); err != nil {
				return "", err
			}
		}
		return info.ID, nil
	}
	return "", nil
}

// Delete implements FileStore.
func (d DriveFiles) Delete(ctx context.Context, fileID string) error {
	return d.Client.DeleteFile(ctx, fileID)
}

// SnapshotFromGmail copies the fields of msg that actions may read.
func SnapshotFromGmail(msg *gmail.Message) MailSnapshot {
	if msg == nil {
		return MailSnapshot{}
	}
	return MailSnapshot{
		ID:         msg.ID,
		ThreadID:   msg.ThreadID,
		From:       msg.From,
		To:         append([]string(nil), msg.To...),
		Cc:         append([]string(nil), msg.Cc...),
		Subject:    msg.Subject,
		Snippet:    msg.Snippet,
		Body:       msg.Body,
		Labels:     append([]string(nil), msg.Labels...),
		ReceivedAt: msg.ReceivedAt,
	}
}
