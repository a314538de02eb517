// Package calendar provides a small client for the Google Calendar API.
//
// The automation engine uses it to schedule deadline events for calendar_event
// actions and to delete them again when a batch is rolled back.
//
// Example usage:
//
//	client, err := calendar.NewClientForAccountWithProvider(ctx, "default", provider, metrics)
//	if err != nil {
//	    return err
//	}
//	event, err := client.CreateEvent(ctx, "primary", calendar.EventInput{
//	    Summary: "Office action response due",
//	    Start:   start,
//	    End:     start.Add(time.Hour),
//	})
package calendar
