package calendar

import (
	"time"

	calendar "google.golang.org/api/calendar/v3"
)

// EventInput represents the input for creating a calendar event
type EventInput struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Attendees   []string
	AllDay      bool
}

// EventSummary represents a simplified calendar event
type EventSummary struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Organizer   string
	Status      string
	Attendees   []string
	HTMLLink    string
}

// toEventSummary converts a Google Calendar event to an EventSummary
func toEventSummary(event *calendar.Event) EventSummary {
	if event == nil {
		return EventSummary{}
	}

	summary := EventSummary{
		ID:          event.Id,
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
		Status:      event.Status,
		HTMLLink:    event.HtmlLink,
		Start:       parseEventTime(event.Start),
		End:         parseEventTime(event.End),
	}

	if event.Organizer != nil {
		summary.Organizer = event.Organizer.Email
	}
	for _, att := range event.Attendees {
		summary.Attendees = append(summary.Attendees, att.Email)
	}

	return summary
}

func parseEventTime(dt *calendar.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse("2006-01-02", dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

// toEvent builds the API representation of input.
func toEvent(input EventInput) *calendar.Event {
	event := &calendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Location:    input.Location,
	}

	// All-day events use Date instead of DateTime
	if input.AllDay {
		event.Start = &calendar.EventDateTime{Date: input.Start.Format("2006-01-02")}
		event.End = &calendar.EventDateTime{Date: input.End.Format("2006-01-02")}
	} else {
		tz := input.TimeZone
		if tz == "" {
			tz = "UTC"
		}
		event.Start = &calendar.EventDateTime{DateTime: input.Start.Format(time.RFC3339), TimeZone: tz}
		event.End = &calendar.EventDateTime{DateTime: input.End.Format(time.RFC3339), TimeZone: tz}
	}

	for _, email := range input.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}

	return event
}
