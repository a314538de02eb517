package google

import (
	calendar "google.golang.org/api/calendar/v3"
	drive "google.golang.org/api/drive/v3"
	gmail "google.golang.org/api/gmail/v1"
)

// DefaultOAuthScopes are the scopes the automation actions need.
//
// The scopes provide access to:
//   - Gmail: read the triggering mail, send replies
//   - Google Calendar: create and delete deadline events
//   - Google Drive: create and delete files the app uploaded
var DefaultOAuthScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",

	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,

	calendar.CalendarEventsScope,

	drive.DriveFileScope,
}
